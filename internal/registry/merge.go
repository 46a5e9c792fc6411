package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// InvalidOverride описывает переопределение, отклонённое из-за несовпадения типов.
// Такие ключи не применяются и не считаются фатальной ошибкой.
type InvalidOverride struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// OverrideDiff - отчёт о применении переопределений к шаблону тира
type OverrideDiff struct {
	Applied map[string]any    `json:"template_overrides_applied"`
	Ignored []string          `json:"ignored_overrides"`
	Invalid []InvalidOverride `json:"invalid_overrides,omitempty"`
	Hash    string            `json:"overrides_hash"`
}

// ApplyOverridesStrict глубоко сливает overrides с base, но только по ключам,
// которые уже есть в base. Неизвестные ключи попадают в Ignored вместе со
// всеми вложенными путями. Массивы заменяются целиком. base не изменяется.
//
// Значения сверяются с типами TierConfig: ключ, который не декодировался бы
// (дробная ширина, строка в диапазоне), попадает в Invalid и сохраняет
// значение шаблона. Поэтому DecodeTierConfig от результата не падает
// из-за переопределений.
func ApplyOverridesStrict(base, overrides map[string]any) (map[string]any, OverrideDiff) {
	merged := deepCopyMap(base)
	diff := OverrideDiff{
		Applied: map[string]any{},
		Ignored: []string{},
		Hash:    OverridesHash(overrides),
	}
	if len(overrides) == 0 {
		return merged, diff
	}

	mergeStrict(merged, overrides, "", tierSchema, &diff)
	diff.Ignored = dedupPreserveOrder(diff.Ignored)
	return merged, diff
}

func mergeStrict(dst, src map[string]any, prefix string, schema reflect.Type, diff *OverrideDiff) {
	for _, k := range sortedKeys(src) {
		v := src[k]
		p := joinPath(prefix, k)

		cur, exists := dst[k]
		if !exists {
			diff.Ignored = append(diff.Ignored, p)
			if sub, ok := v.(map[string]any); ok {
				diff.Ignored = append(diff.Ignored, flattenKeys(sub, p)...)
			}
			continue
		}

		invalid := func(reason string) {
			diff.Ignored = append(diff.Ignored, p)
			diff.Invalid = append(diff.Invalid, InvalidOverride{Path: p, Reason: reason})
		}

		curMap, curIsMap := cur.(map[string]any)
		srcMap, srcIsMap := v.(map[string]any)

		if field := schemaChild(schema, k); field != nil {
			if curIsMap && srcIsMap {
				mergeStrict(curMap, srcMap, p, field, diff)
				continue
			}
			if v == nil && cur != nil {
				invalid(fmt.Sprintf("expected %s, got null", jsonKind(cur)))
				continue
			}
			norm, reason, ok := conform(field, v)
			if !ok {
				invalid(reason)
				continue
			}
			dst[k] = norm
			diff.Applied[p] = deepCopyValue(norm)
			continue
		}

		_, curIsList := cur.([]any)
		srcList, srcIsList := v.([]any)

		switch {
		case cur == nil && v != nil:
			// null в шаблоне - объявленный, но незаданный ключ
			copied := deepCopyValue(v)
			dst[k] = copied
			diff.Applied[p] = copied
		case curIsMap && srcIsMap:
			mergeStrict(curMap, srcMap, p, nil, diff)
		case curIsList && srcIsList:
			copied := deepCopyValue(srcList)
			dst[k] = copied
			diff.Applied[p] = copied
		case !curIsMap && !curIsList && !srcIsMap && !srcIsList:
			if reason, ok := scalarCompatible(cur, v); !ok {
				invalid(reason)
				continue
			}
			dst[k] = v
			diff.Applied[p] = v
		default:
			invalid(fmt.Sprintf("cannot replace %s with %s", jsonKind(cur), jsonKind(v)))
		}
	}
}

// scalarCompatible проверяет совпадение JSON-вида скаляров
func scalarCompatible(base, override any) (string, bool) {
	bk, ok := jsonKind(base), jsonKind(override)
	if bk != ok {
		return fmt.Sprintf("expected %s, got %s", bk, ok), false
	}
	return "", true
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// OverridesHash возвращает стабильный SHA1 переопределений.
// encoding/json сортирует ключи map, поэтому вывод канонический.
func OverridesHash(overrides map[string]any) string {
	if len(overrides) == 0 {
		return "sha1:0"
	}
	blob, err := json.Marshal(overrides)
	if err != nil {
		return "sha1:0"
	}
	sum := sha1.Sum(blob)
	return "sha1:" + hex.EncodeToString(sum[:])
}

// flattenKeys раскладывает вложенные ключи в пути вида a.b.c
func flattenKeys(obj map[string]any, prefix string) []string {
	var out []string
	for _, k := range sortedKeys(obj) {
		p := joinPath(prefix, k)
		out = append(out, p)
		if sub, ok := obj[k].(map[string]any); ok {
			out = append(out, flattenKeys(sub, p)...)
		}
	}
	return out
}

func joinPath(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupPreserveOrder(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopyValue(m).(map[string]any)
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}
