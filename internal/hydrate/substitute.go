package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

var (
	// ErrTemplate marks a template that cannot be decoded or re-encoded.
	ErrTemplate = errors.New("malformed template")
	// ErrMissingColumn is returned in strict mode for a placeholder with no matching column.
	ErrMissingColumn = errors.New("missing column")
	// ErrUnknownType is returned for widget types outside the closed set.
	ErrUnknownType = errors.New("unknown widget type")
)

// Wildcard is the table sentinel meaning "every row, every declared column".
const Wildcard = "{{*}}"

var (
	placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	wholeRe       = regexp.MustCompile(`^\{\{([^}]+)\}\}$`)
)

// Options tunes substitution.
type Options struct {
	// StrictColumns turns a placeholder with no matching column into
	// ErrMissingColumn instead of an empty value.
	StrictColumns bool
}

type fillMode int

const (
	// fillText splices the first row's value into the surrounding string.
	fillText fillMode = iota
	// fillColumn replaces a whole-string placeholder with the column across all rows.
	fillColumn
)

func modeFor(t widget.Type) (fillMode, error) {
	switch t {
	case widget.TypeMarkdown:
		return fillText, nil
	case widget.TypeChart, widget.TypeTable, widget.TypeQuery:
		return fillColumn, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Substitute resolves the placeholders of template against rows.
//
// An empty row-set returns template unchanged. A string value equal to
// Wildcard expands the template as a table. Otherwise markdown widgets take
// values from the first row only, spliced into strings, and every other type
// replaces a "{{col}}" string with the array of that column across all rows.
func Substitute(template json.RawMessage, rows widget.RowSet, t widget.Type, opts Options) (json.RawMessage, error) {
	if len(rows) == 0 {
		return template, nil
	}

	tree, err := decode(template)
	if err != nil {
		return nil, err
	}

	if hasWildcard(tree) {
		out, err := expandWildcard(tree, rows)
		if err != nil {
			return nil, err
		}
		return encode(out)
	}

	mode, err := modeFor(t)
	if err != nil {
		return nil, err
	}
	s := &substituter{
		rows:    rows,
		mode:    mode,
		strict:  opts.StrictColumns,
		columns: make(map[string]any),
		texts:   make(map[string]string),
	}
	out, err := s.walk(tree)
	if err != nil {
		return nil, err
	}
	return encode(out)
}

// Placeholders lists the distinct placeholder names in template, in document order.
func Placeholders(template json.RawMessage) ([]string, error) {
	if !json.Valid(template) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrTemplate)
	}
	dec := json.NewDecoder(bytes.NewReader(template))
	seen := make(map[string]struct{})
	var names []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
		}
		s, ok := tok.(string)
		if !ok {
			continue
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
			if _, dup := seen[m[1]]; dup {
				continue
			}
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
}

func decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after template", ErrTemplate)
	}
	return v, nil
}

func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func hasWildcard(v any) bool {
	switch x := v.(type) {
	case string:
		return x == Wildcard
	case map[string]any:
		for _, child := range x {
			if hasWildcard(child) {
				return true
			}
		}
	case []any:
		for _, child := range x {
			if hasWildcard(child) {
				return true
			}
		}
	}
	return false
}

func expandWildcard(tree any, rows widget.RowSet) (any, error) {
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires an object template", ErrTemplate, Wildcard)
	}

	columns, err := wildcardColumns(obj, rows[0])
	if err != nil {
		return nil, err
	}

	table := make([]any, len(rows))
	for i, r := range rows {
		cells := make([]any, len(columns))
		for j, col := range columns {
			cells[j], _ = r.Get(col)
		}
		table[i] = cells
	}

	declared := make([]any, len(columns))
	for i, col := range columns {
		declared[i] = col
	}

	out := make(map[string]any, len(obj)+2)
	for k, v := range obj {
		out[k] = v
	}
	out["columns"] = declared
	out["rows"] = table
	return out, nil
}

// wildcardColumns returns the template's declared columns, or the first row's
// columns in native order when none are declared.
func wildcardColumns(obj map[string]any, first widget.Row) ([]string, error) {
	raw, ok := obj["columns"]
	if !ok || raw == nil {
		return first.Columns(), nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: columns must be an array", ErrTemplate)
	}
	columns := make([]string, len(list))
	for i, c := range list {
		s, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("%w: columns[%d] is not a string", ErrTemplate, i)
		}
		columns[i] = s
	}
	return columns, nil
}

type substituter struct {
	rows   widget.RowSet
	mode   fillMode
	strict bool

	// Each distinct placeholder resolves once per pass.
	columns map[string]any
	texts   map[string]string
}

func (s *substituter) walk(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			nv, err := s.walk(child)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case []any:
		for i, child := range x {
			nv, err := s.walk(child)
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	case string:
		if s.mode == fillText {
			return s.splice(x)
		}
		if m := wholeRe.FindStringSubmatch(x); m != nil {
			return s.column(m[1])
		}
		return x, nil
	}
	return v, nil
}

func (s *substituter) splice(str string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(str, -1)
	if len(matches) == 0 {
		return str, nil
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		name := str[m[2]:m[3]]
		text, err := s.text(name)
		if err != nil {
			return "", err
		}
		b.WriteString(str[last:m[0]])
		b.WriteString(text)
		last = m[1]
	}
	b.WriteString(str[last:])
	return b.String(), nil
}

func (s *substituter) text(name string) (string, error) {
	if t, ok := s.texts[name]; ok {
		return t, nil
	}
	v, ok := s.rows[0].Get(name)
	if !ok && s.strict {
		return "", fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	t := stringify(v)
	s.texts[name] = t
	return t, nil
}

func (s *substituter) column(name string) (any, error) {
	if c, ok := s.columns[name]; ok {
		return c, nil
	}
	values := make([]any, len(s.rows))
	found := false
	for i, r := range s.rows {
		v, ok := r.Get(name)
		if ok {
			found = true
		}
		values[i] = v
	}
	if !found {
		if s.strict {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		values = []any{}
	}
	s.columns[name] = values
	return values, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
