package churn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
)

// Row is one client-supplied record. It keeps its keys in the order they
// appeared in the JSON object.
type Row struct {
	keys   []string
	values map[string]json.RawMessage
}

// Keys returns the field names in document order.
func (r Row) Keys() []string { return r.keys }

func (r *Row) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: customer must be a JSON object", ErrInvalidInput)
	}
	r.keys = r.keys[:0]
	r.values = map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := r.values[key]; !dup {
			r.keys = append(r.keys, key)
		}
		r.values[key] = raw
	}
	_, err = dec.Token()
	return err
}

// Value renders field key as export text: numbers keep their literal form,
// null and absent fields are empty.
func (r Row) Value(key string) string {
	raw, ok := r.values[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, string(raw) == "null":
		return ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// ExportRequest is a client-driven export.
type ExportRequest struct {
	Customers []Row    `json:"customers"`
	Columns   []string `json:"columns"`
	Format    string   `json:"format"`
}

// Export writes req.Customers in req.Format. Without explicit columns the
// header is every key seen, in first-seen order.
func Export(w io.Writer, req ExportRequest) error {
	if len(req.Customers) == 0 {
		return fmt.Errorf("%w: no data provided", ErrInvalidInput)
	}
	cols := req.Columns
	if len(cols) == 0 {
		seen := map[string]bool{}
		for _, row := range req.Customers {
			for _, k := range row.keys {
				if !seen[k] {
					seen[k] = true
					cols = append(cols, k)
				}
			}
		}
	}
	rows := make([][]string, len(req.Customers))
	for i, row := range req.Customers {
		out := make([]string, len(cols))
		for j, c := range cols {
			out[j] = row.Value(c)
		}
		rows[i] = out
	}
	if err := table.Write(w, req.Format, cols, rows); err != nil {
		return exportErr(err)
	}
	return nil
}

// ExportSession writes the active session's records. Columns default to the
// original columns followed by the derived ones; unknown columns are an input
// error.
func (s *Service) ExportSession(w io.Writer, format string, columns []string) error {
	sess, ok := s.store.Current()
	if !ok {
		return session.ErrNoSession
	}
	return WriteRecords(w, format, sess.Records, columns)
}

// WriteRecords exports records with their original cell text, so the file
// reproduces the uploaded values exactly.
func WriteRecords(w io.Writer, format string, records []session.Record, columns []string) error {
	if len(columns) == 0 && len(records) > 0 {
		columns = append(append([]string(nil), records[0].Columns...), session.DerivedColumns...)
	}
	rows := make([][]string, len(records))
	for i := range records {
		out := make([]string, len(columns))
		for j, c := range columns {
			v, ok := records[i].Field(c)
			if !ok {
				return fmt.Errorf("%w: unknown column %q", ErrInvalidInput, c)
			}
			out[j] = formatField(v)
		}
		rows[i] = out
	}
	if err := table.Write(w, format, columns, rows); err != nil {
		return exportErr(err)
	}
	return nil
}

func formatField(v any) string {
	switch x := v.(type) {
	case table.Cell:
		if x.Null {
			return ""
		}
		return x.Raw
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func exportErr(err error) error {
	if Classify(err) == KindInput {
		return err
	}
	return fmt.Errorf("export: %w", err)
}
