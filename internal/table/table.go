package table

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyTable is returned when a file has a header but no data rows, or no header at all.
var ErrEmptyTable = errors.New("table has no rows")

// Cell is one raw value as it appeared in the uploaded file.
type Cell struct {
	Raw  string
	Null bool
}

// Float returns the numeric interpretation of the cell.
func (c Cell) Float() (float64, bool) {
	if c.Null {
		return 0, false
	}
	return ParseNumber(c.Raw)
}

// MarshalJSON emits null for missing cells and the raw text otherwise. The
// text is a JSON number only when it is already in canonical form, so "1.50"
// and "01234" stay strings and survive a round trip unchanged.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c.Null {
		return []byte("null"), nil
	}
	if f, err := strconv.ParseFloat(c.Raw, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) &&
		strconv.FormatFloat(f, 'f', -1, 64) == c.Raw {
		return []byte(c.Raw), nil
	}
	return json.Marshal(c.Raw)
}

// Table is an uploaded dataset with its original column order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]Cell
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// Column returns the cells of column j, top to bottom.
func (t *Table) Column(j int) []Cell {
	out := make([]Cell, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out
}

// ColumnIndex finds a column by exact name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for j, c := range t.Columns {
		if c == name {
			return j, true
		}
	}
	return -1, false
}

// DropColumns removes the named columns and returns the names that were present.
func (t *Table) DropColumns(names ...string) []string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []int
	var dropped []string
	for j, c := range t.Columns {
		if drop[c] {
			dropped = append(dropped, c)
			continue
		}
		keep = append(keep, j)
	}
	if len(dropped) == 0 {
		return nil
	}
	cols := make([]string, len(keep))
	for k, j := range keep {
		cols[k] = t.Columns[j]
	}
	for i, row := range t.Rows {
		out := make([]Cell, len(keep))
		for k, j := range keep {
			out[k] = row[j]
		}
		t.Rows[i] = out
	}
	t.Columns = cols
	return dropped
}

var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"n/a":  true,
	"null": true,
	"none": true,
}

// IsMissing reports whether a raw value should be treated as absent.
func IsMissing(raw string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// isIndexArtifact matches the unnamed index columns spreadsheets and dataframe
// exports leave behind ("", "Unnamed: 0").
func isIndexArtifact(name string) bool {
	n := strings.TrimSpace(name)
	return n == "" || strings.HasPrefix(n, "Unnamed")
}

// build normalizes a header and raw string rows into a Table: it drops index
// artifacts, pads short rows and marks missing cells.
func build(name string, header []string, records [][]string) (*Table, error) {
	keep := make([]int, 0, len(header))
	cols := make([]string, 0, len(header))
	seen := map[string]int{}
	for j, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if isIndexArtifact(h) {
			continue
		}
		// duplicate headers get a numeric suffix so records stay addressable by name
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n)
		} else {
			seen[h] = 1
		}
		keep = append(keep, j)
		cols = append(cols, h)
	}
	if len(cols) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{Name: name, Columns: cols}
	for _, rec := range records {
		if isBlankRecord(rec) {
			continue
		}
		row := make([]Cell, len(keep))
		for k, j := range keep {
			var v string
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			row[k] = Cell{Raw: v, Null: IsMissing(v)}
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	return t, nil
}

// isBlankRecord matches the empty rows spreadsheets report between data rows.
// A delimited row of empty fields is kept as a row of missing values.
func isBlankRecord(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "")
}
