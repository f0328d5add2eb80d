package preprocess

import (
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/churnlens/internal/table"
)

func mustTable(t *testing.T, csv string) *table.Table {
	t.Helper()
	tb, err := table.Read("input.csv", strings.NewReader(csv))
	require.NoError(t, err)
	return tb
}

func TestAgeOutlierIsClampedToUpperBound(t *testing.T) {
	csv := "Age,Plan\n18,a\n25,b\n30,a\n35,b\n40,a\n45,b\n50,a\n55,b\n60,a\n200,b\n"
	res, _, err := Preprocess(mustTable(t, csv), DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, []string{"Age", "Plan"}, res.FeatureNames)
	// Q1=31.25, Q3=53.75, IQR=22.5
	assert.InDelta(t, 87.5, res.Matrix[9][0], 1e-9)
	assert.InDelta(t, 18.0, res.Matrix[0][0], 1e-9)
	assert.Equal(t, 1, res.Columns[0].Clamped)
}

func TestHighMissingColumnsAreDropped(t *testing.T) {
	csv := "tenure,coupon,region\n" +
		"1,,north\n" +
		"2,,south\n" +
		"3,5,\n" +
		"4,,north\n"
	res, enc, err := Preprocess(mustTable(t, csv), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"tenure", "region"}, res.FeatureNames)
	assert.Equal(t, []string{"coupon"}, res.Dropped())
	require.Contains(t, enc, "region")
	// missing region takes the mode "north"
	north, ok := enc["region"].Transform("north")
	require.True(t, ok)
	assert.Equal(t, float64(north), res.Matrix[2][1])
}

func TestExactlyHalfMissingIsKept(t *testing.T) {
	csv := "a,b\n1,x\n,y\n3,x\n,y\n"
	res, _, err := Preprocess(mustTable(t, csv), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.FeatureNames)
	// median of {1,3}
	assert.Equal(t, 2.0, res.Matrix[1][0])
}

func TestModeTieBrokenByEncounterOrder(t *testing.T) {
	cells := []table.Cell{{Raw: "beta"}, {Raw: "alpha"}, {Null: true}, {Raw: "alpha"}, {Raw: "beta"}}
	mode, ok := modeOf(cells)
	require.True(t, ok)
	assert.Equal(t, "beta", mode)
}

func TestAllMissingCategoricalIsDroppedWhenAllowed(t *testing.T) {
	csv := "x,y\n1,\n2,\n3,\n"
	opt := DefaultOptions()
	opt.MaxMissingRatio = 1
	res, _, err := Preprocess(mustTable(t, csv), opt)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, res.FeatureNames)
	assert.Equal(t, []string{"y"}, res.Dropped())
}

func TestNoUsableColumns(t *testing.T) {
	csv := "x,y\n,a\n,\n,\n"
	_, _, err := Preprocess(mustTable(t, csv), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUsableColumns))
}

func TestEmptyTable(t *testing.T) {
	_, _, err := Preprocess(&table.Table{Columns: []string{"a"}}, DefaultOptions())
	assert.ErrorIs(t, err, table.ErrEmptyTable)
}

func TestLabelEncodingIsSortedAndInvertible(t *testing.T) {
	csv := "contract\nMonthly\nYearly\nBiennial\nMonthly\n"
	res, enc, err := Preprocess(mustTable(t, csv), DefaultOptions())
	require.NoError(t, err)
	e := enc["contract"]
	assert.Equal(t, []string{"Biennial", "Monthly", "Yearly"}, e.Classes)
	assert.Equal(t, []float64{1}, res.Matrix[0])
	assert.Equal(t, []float64{0}, res.Matrix[2])
	v, ok := e.Inverse(2)
	require.True(t, ok)
	assert.Equal(t, "Yearly", v)
	_, ok = e.Transform("Weekly")
	assert.False(t, ok)
}

func randomTable(rng *rand.Rand) *table.Table {
	rows := 5 + rng.Intn(60)
	cols := 1 + rng.Intn(6)
	tb := &table.Table{Name: "random.csv"}
	numeric := make([]bool, cols)
	for j := 0; j < cols; j++ {
		tb.Columns = append(tb.Columns, "c"+strconv.Itoa(j))
		numeric[j] = rng.Intn(3) > 0
	}
	missRate := make([]float64, cols)
	for j := range missRate {
		missRate[j] = rng.Float64() * 0.8
	}
	for i := 0; i < rows; i++ {
		row := make([]table.Cell, cols)
		for j := 0; j < cols; j++ {
			if rng.Float64() < missRate[j] {
				row[j] = table.Cell{Null: true}
				continue
			}
			if numeric[j] {
				v := rng.NormFloat64()*10 + 50
				if rng.Intn(20) == 0 {
					v *= 20
				}
				row[j] = table.Cell{Raw: strconv.FormatFloat(v, 'f', 3, 64)}
			} else {
				row[j] = table.Cell{Raw: string(rune('a' + rng.Intn(4)))}
			}
		}
		tb.Rows = append(tb.Rows, row)
	}
	return tb
}

func TestPreprocessProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		tb := randomTable(rng)
		res, _, err := Preprocess(tb, DefaultOptions())
		if errors.Is(err, ErrNoUsableColumns) {
			continue
		}
		require.NoError(t, err)
		require.Len(t, res.Matrix, tb.NumRows())
		require.LessOrEqual(t, len(res.FeatureNames), len(tb.Columns))

		for k, name := range res.FeatureNames {
			j, ok := tb.ColumnIndex(name)
			require.True(t, ok)
			cells := tb.Column(j)
			missing := 0
			var present []float64
			for _, c := range cells {
				if c.Null {
					missing++
				} else if v, ok := c.Float(); ok {
					present = append(present, v)
				}
			}
			require.LessOrEqual(t, float64(missing)/float64(len(cells)), 0.5, "column %s should have been dropped", name)
			isNumeric := inferKind(cells) == KindNumeric
			lo, hi := math.Inf(-1), math.Inf(1)
			if isNumeric {
				lo, hi = IQRBounds(present, 1.5)
			}
			for i := range res.Matrix {
				v := res.Matrix[i][k]
				require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
				require.GreaterOrEqual(t, v, lo)
				require.LessOrEqual(t, v, hi)
			}
		}

		again, _, err := Preprocess(tb, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, res.FeatureNames, again.FeatureNames)
		assert.Equal(t, res.Matrix, again.Matrix)
	}
}

func TestQuantile(t *testing.T) {
	s := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.75, Quantile(s, 0.25))
	assert.Equal(t, 3.25, Quantile(s, 0.75))
	assert.Equal(t, 1.0, Quantile(s, 0))
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}
