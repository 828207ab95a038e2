package widget

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one record of a query result: an ordered mapping from column name
// to a scalar or null. Column order is the order the data source reported.
type Row struct {
	keys   []string
	values map[string]any
}

// RowSet is the ordered result of a widget query.
type RowSet []Row

// NewRow builds a row from parallel key and value slices.
// A repeated key keeps its first position and its last value.
func NewRow(keys []string, values []any) Row {
	r := Row{values: make(map[string]any, len(keys))}
	for i, k := range keys {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.Set(k, v)
	}
	return r
}

// Set assigns a column value, appending the column if it is new.
func (r *Row) Set(col string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[col]; !ok {
		r.keys = append(r.keys, col)
	}
	r.values[col] = v
}

// Get returns the value of col and whether the column is present.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.values[col]
	return v, ok
}

// Columns returns the column names in native order.
func (r Row) Columns() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.keys)
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal row key: %w", err)
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal row value %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order. Numbers are
// kept as json.Number so they re-encode with their original text.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode row: expected object, got %v", tok)
	}

	*r = Row{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode row key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode row: unexpected key token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode row value %q: %w", key, err)
		}
		r.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
