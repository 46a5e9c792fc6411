package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

var (
	tierSchema     = reflect.TypeOf(TierConfig{})
	intRangeType   = reflect.TypeOf(IntRange{})
	emptyInterface = reflect.TypeOf((*any)(nil)).Elem()
)

// schemaChild возвращает Go-тип поля key внутри t по json-тегам.
// nil - поле схеме неизвестно, значение проверяется только по JSON-виду.
func schemaChild(t reflect.Type, key string) reflect.Type {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" {
				name = f.Name
			}
			if name == key {
				return f.Type
			}
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return t.Elem()
		}
	}
	return nil
}

// conform проверяет, что v декодируется в t, и возвращает значение для слияния.
// Скаляр для IntRange превращается в [n, n], как и при разборе шаблона.
func conform(t reflect.Type, v any) (any, string, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v == nil || t == emptyInterface {
		return v, "", true
	}
	if t == intRangeType {
		return conformRange(v)
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := asNumber(v)
		if !ok {
			return nil, fmt.Sprintf("expected integer, got %s", jsonKind(v)), false
		}
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Sprintf("expected integer, got %v", n), false
		}
		if t.Kind() >= reflect.Uint && n < 0 {
			return nil, fmt.Sprintf("expected non-negative integer, got %v", n), false
		}
		return v, "", true
	case reflect.Float32, reflect.Float64:
		if _, ok := asNumber(v); !ok {
			return nil, fmt.Sprintf("expected number, got %s", jsonKind(v)), false
		}
		return v, "", true
	case reflect.String:
		if _, ok := v.(string); !ok {
			return nil, fmt.Sprintf("expected string, got %s", jsonKind(v)), false
		}
		return v, "", true
	case reflect.Bool:
		if _, ok := v.(bool); !ok {
			return nil, fmt.Sprintf("expected bool, got %s", jsonKind(v)), false
		}
		return v, "", true
	case reflect.Slice, reflect.Array:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Sprintf("expected array, got %s", jsonKind(v)), false
		}
		out := make([]any, len(list))
		for i, el := range list {
			norm, reason, ok := conform(t.Elem(), el)
			if !ok {
				return nil, fmt.Sprintf("[%d]: %s", i, reason), false
			}
			out[i] = deepCopyValue(norm)
		}
		return out, "", true
	case reflect.Map, reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Sprintf("expected object, got %s", jsonKind(v)), false
		}
		out := make(map[string]any, len(obj))
		for _, k := range sortedKeys(obj) {
			child := schemaChild(t, k)
			if child == nil {
				// неизвестные поля декодер пропускает
				out[k] = deepCopyValue(obj[k])
				continue
			}
			norm, reason, ok := conform(child, obj[k])
			if !ok {
				return nil, k + ": " + reason, false
			}
			out[k] = deepCopyValue(norm)
		}
		return out, "", true
	}
	return deepCopyValue(v), "", true
}

func conformRange(v any) (any, string, bool) {
	integral := func(x any) bool {
		n, ok := asNumber(x)
		return ok && n == math.Trunc(n) && !math.IsInf(n, 0)
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return nil, "empty range", false
		}
		for i, el := range t {
			if !integral(el) {
				return nil, fmt.Sprintf("range[%d]: expected integer, got %s", i, describe(el)), false
			}
		}
		return deepCopyValue(t), "", true
	case map[string]any:
		for _, k := range []string{"min", "max"} {
			if el, ok := t[k]; ok && el != nil && !integral(el) {
				return nil, fmt.Sprintf("range.%s: expected integer, got %s", k, describe(el)), false
			}
		}
		return deepCopyValue(t), "", true
	default:
		if !integral(v) {
			return nil, fmt.Sprintf("expected integer range, got %s", describe(v)), false
		}
		return []any{v, v}, "", true
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func describe(v any) string {
	if n, ok := asNumber(v); ok {
		return fmt.Sprintf("%v", n)
	}
	return jsonKind(v)
}
