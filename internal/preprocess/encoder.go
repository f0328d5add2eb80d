package preprocess

import "sort"

// LabelEncoder maps the distinct strings of one categorical column to integer
// codes. Classes are sorted, so code i is Classes[i].
type LabelEncoder struct {
	Column  string   `json:"column"`
	Classes []string `json:"classes"`
	index   map[string]int
}

// Encoders holds the fitted encoder for each original categorical column.
type Encoders map[string]*LabelEncoder

func fitLabelEncoder(column string, values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	e := &LabelEncoder{Column: column, Classes: classes}
	e.reindex()
	return e
}

func (e *LabelEncoder) reindex() {
	e.index = make(map[string]int, len(e.Classes))
	for i, c := range e.Classes {
		e.index[c] = i
	}
}

// Transform returns the code for v, or false for a value unseen at fit time.
func (e *LabelEncoder) Transform(v string) (int, bool) {
	if e.index == nil {
		e.reindex()
	}
	code, ok := e.index[v]
	return code, ok
}

// Inverse returns the original string for a code.
func (e *LabelEncoder) Inverse(code int) (string, bool) {
	if code < 0 || code >= len(e.Classes) {
		return "", false
	}
	return e.Classes[code], true
}
