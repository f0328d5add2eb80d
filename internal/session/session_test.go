package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/churnlens/internal/table"
)

func cell(s string) table.Cell { return table.Cell{Raw: s, Null: s == ""} }

// build returns a session of n rows over columns Tenure, Contract.
func build(id string, n int) *Session {
	cols := []string{"Tenure", "Contract"}
	s := &Session{ID: id, Columns: cols, FeatureNames: cols}
	for i := 0; i < n; i++ {
		s.Records = append(s.Records, Record{
			Index:      i,
			Columns:    cols,
			Values:     []table.Cell{cell("12"), cell("Monthly")},
			Prediction: Prediction{Probability: 61.25, Label: "High Risk", Class: 1},
		})
		s.Matrix = append(s.Matrix, []float64{12, 0})
	}
	return s
}

func TestCommitStampsIncreasingGenerations(t *testing.T) {
	st := NewStore()
	_, ok := st.Current()
	assert.False(t, ok)

	g1, err := st.Commit(build("a", 2))
	require.NoError(t, err)
	g2, err := st.Commit(build("b", 3))
	require.NoError(t, err)
	assert.Greater(t, g2, g1)

	cur, ok := st.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)
	assert.Equal(t, g2, cur.Generation)

	st.Invalidate()
	_, ok = st.Current()
	assert.False(t, ok)
	g3, err := st.Commit(build("c", 1))
	require.NoError(t, err)
	assert.Greater(t, g3, g2+1, "invalidate consumes a generation")
}

func TestCommitRejectsMisalignedSession(t *testing.T) {
	s := build("bad", 2)
	s.Matrix = s.Matrix[:1]
	_, err := NewStore().Commit(s)
	require.Error(t, err)
	_, err = NewStore().Commit(nil)
	require.Error(t, err)
}

func TestExplanationCacheFirstWriterWins(t *testing.T) {
	st := NewStore()
	gen, err := st.Commit(build("a", 3))
	require.NoError(t, err)

	e, err := st.Explanation(gen, 1)
	require.NoError(t, err)
	assert.Nil(t, e)

	first := &Explanation{Index: 1, Narrative: "first"}
	won, err := st.PutExplanation(gen, 1, first)
	require.NoError(t, err)
	assert.Same(t, first, won)

	won, err = st.PutExplanation(gen, 1, &Explanation{Index: 1, Narrative: "second"})
	require.NoError(t, err)
	assert.Same(t, first, won)

	e, err = st.Explanation(gen, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", e.Narrative)
}

func TestExplanationErrors(t *testing.T) {
	st := NewStore()
	_, err := st.Explanation(1, 0)
	require.ErrorIs(t, err, ErrNoSession)

	gen, _ := st.Commit(build("a", 3))
	_, err = st.Explanation(gen, 3)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = st.Explanation(gen, -1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	next, _ := st.Commit(build("b", 3))
	_, err = st.PutExplanation(gen, 0, &Explanation{})
	require.ErrorIs(t, err, ErrStaleSession)
	cur, _ := st.Current()
	assert.Equal(t, next, cur.Generation)
	assert.Zero(t, cur.CachedCount(), "stale write must not land in the new session")
}

func TestResolveComputesOnceUnderConcurrency(t *testing.T) {
	st := NewStore()
	gen, _ := st.Commit(build("a", 5))

	var calls int32
	release := make(chan struct{})
	compute := func() (*Explanation, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &Explanation{Index: 2, Narrative: "n"}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Explanation, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := st.Resolve(context.Background(), gen, 2, compute)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results[i] = e
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, e := range results {
		assert.Same(t, results[0], e)
	}

	e, outcome, err := st.Resolve(context.Background(), gen, 2, compute)
	require.NoError(t, err)
	assert.Equal(t, Cached, outcome)
	assert.Same(t, results[0], e)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveDropsResultForReplacedSession(t *testing.T) {
	st := NewStore()
	gen, _ := st.Commit(build("a", 2))

	_, _, err := st.Resolve(context.Background(), gen, 0, func() (*Explanation, error) {
		_, _ = st.Commit(build("b", 2))
		return &Explanation{Narrative: "old"}, nil
	})
	require.ErrorIs(t, err, ErrStaleSession)
	cur, _ := st.Current()
	assert.Zero(t, cur.CachedCount())
}

func TestResolveErrorIsNotCached(t *testing.T) {
	st := NewStore()
	gen, _ := st.Commit(build("a", 2))
	boom := errors.New("boom")
	_, _, err := st.Resolve(context.Background(), gen, 0, func() (*Explanation, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	e, outcome, err := st.Resolve(context.Background(), gen, 0, func() (*Explanation, error) { return &Explanation{Narrative: "ok"}, nil })
	require.NoError(t, err)
	assert.Equal(t, Computed, outcome)
	assert.Equal(t, "ok", e.Narrative)
}

func TestResolveCallerCancellation(t *testing.T) {
	st := NewStore()
	gen, _ := st.Commit(build("a", 2))
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := st.Resolve(ctx, gen, 1, func() (*Explanation, error) {
			<-release
			return &Explanation{Narrative: "late"}, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	cancel()
	<-done
	close(release)

	// the detached computation still lands in the cache
	require.Eventually(t, func() bool {
		e, _ := st.Explanation(gen, 1)
		return e != nil && e.Narrative == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestReadersSeeWholeSessions(t *testing.T) {
	st := NewStore()
	_, _ = st.Commit(build("s0", 1))
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, ok := st.Current()
				if !ok {
					continue
				}
				if len(s.Records) != len(s.Matrix) || s.Generation == 0 {
					t.Errorf("observed partial session %s", s.ID)
					return
				}
			}
		}()
	}
	for i := 1; i <= 200; i++ {
		_, _ = st.Commit(build("s", i%7+1))
	}
	close(stop)
	wg.Wait()
}

func TestRecordJSONKeepsColumnOrder(t *testing.T) {
	s := build("a", 1)
	s.Records[0].Values[1] = cell("")
	b, err := json.Marshal(&s.Records[0])
	require.NoError(t, err)
	assert.Equal(t, `{"Tenure":12,"Contract":null,"Churn_Probability":61.25,"Churn_Prediction":"High Risk","Predicted_Class":1}`, string(b))

	p, err := json.Marshal(s.Records[0].Profile())
	require.NoError(t, err)
	assert.Equal(t, `{"Tenure":12,"Contract":null}`, string(p))

	v, ok := s.Records[0].Field(ColPrediction)
	assert.True(t, ok)
	assert.Equal(t, "High Risk", v)
	_, ok = s.Records[0].Field("Nope")
	assert.False(t, ok)
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"Churn_Probability": "Churn Probability",
		"customerID":        "Customerid",
		"monthly_charges":   "Monthly Charges",
		"plan2go":           "Plan2Go",
		"already Title":     "Already Title",
	}
	for in, want := range cases {
		assert.Equal(t, want, Label(in), in)
	}
}
