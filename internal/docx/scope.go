package docx

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// scope is one level of the data context. Lookups walk from the innermost
// scope outwards, like mustache sections.
type scope struct {
	value  any
	parent *scope
}

func (s *scope) push(v any) *scope { return &scope{value: v, parent: s} }

func (s *scope) lookup(path string) (any, bool) {
	if path == "." || path == "this" {
		return s.value, true
	}

	keys := strings.Split(path, ".")
	for sc := s; sc != nil; sc = sc.parent {
		m, ok := sc.value.(map[string]any)
		if !ok {
			continue
		}
		v, ok := m[keys[0]]
		if !ok {
			continue
		}
		return descend(v, keys[1:])
	}
	return nil, false
}

func descend(v any, keys []string) (any, bool) {
	for _, k := range keys {
		switch c := v.(type) {
		case map[string]any:
			next, ok := c[k]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			v = c[i]
		default:
			return nil, false
		}
	}
	return v, true
}

// truthy mirrors the section semantics of logic-less templates.
func truthy(v any) bool {
	switch c := v.(type) {
	case nil:
		return false
	case bool:
		return c
	case string:
		return c != ""
	case float64:
		return c != 0
	case json.Number:
		f, err := c.Float64()
		return err != nil || f != 0
	case []any:
		return len(c) > 0
	case map[string]any:
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32:
		return rv.Float() != 0
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func formatValue(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case bool:
		return strconv.FormatBool(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case json.Number:
		return c.String()
	case map[string]any, []any:
		b, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(b)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
