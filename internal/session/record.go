package session

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/KaramelBytes/churnlens/internal/table"
)

// Names of the derived columns appended to every record.
const (
	ColProbability = "Churn_Probability"
	ColPrediction  = "Churn_Prediction"
	ColClass       = "Predicted_Class"
)

// DerivedColumns lists the derived columns in output order.
var DerivedColumns = []string{ColProbability, ColPrediction, ColClass}

// Prediction is the model output attached to a record.
type Prediction struct {
	// Probability of churn on a 0–100 scale, 2 decimals.
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
	Class       int     `json:"class"`
}

// Record is one uploaded row with its original values and prediction.
type Record struct {
	Index int
	// Columns is shared with the owning session; Values aligns with it.
	Columns    []string
	Values     []table.Cell
	Prediction Prediction
}

// Attribute returns the original value of a column.
func (r *Record) Attribute(column string) (table.Cell, bool) {
	for j, c := range r.Columns {
		if c == column {
			return r.Values[j], true
		}
	}
	return table.Cell{}, false
}

// Field returns the value of an original or derived column as a JSON-ready
// value: nil for missing cells, float64 for numbers and string otherwise.
func (r *Record) Field(column string) (any, bool) {
	switch column {
	case ColProbability:
		return r.Prediction.Probability, true
	case ColPrediction:
		return r.Prediction.Label, true
	case ColClass:
		return r.Prediction.Class, true
	}
	c, ok := r.Attribute(column)
	if !ok {
		return nil, false
	}
	return c, true
}

// Profile is the record's original columns only, in column order.
func (r *Record) Profile() json.Marshaler {
	return orderedFields{r: r, derived: false}
}

// MarshalJSON writes the original columns in order followed by the derived
// columns.
func (r *Record) MarshalJSON() ([]byte, error) {
	return orderedFields{r: r, derived: true}.MarshalJSON()
}

type orderedFields struct {
	r       *Record
	derived bool
}

func (o orderedFields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	for j, c := range o.r.Columns {
		if err := write(c, o.r.Values[j]); err != nil {
			return nil, err
		}
	}
	if o.derived {
		for _, c := range DerivedColumns {
			v, _ := o.r.Field(c)
			if err := write(c, v); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Label turns a column key into a display label: underscores become spaces
// and every run of letters is title-cased, so "customerID" becomes
// "Customerid" and "Churn_Probability" becomes "Churn Probability".
func Label(column string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range strings.ReplaceAll(column, "_", " ") {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			b.WriteRune(unicode.ToTitle(r))
		case isLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
