package qdrant

import (
	"fmt"
	"sort"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
)

// Filter is a conjunction of exact-match conditions on payload fields. Every
// entry must hold for a point to match. Richer operators (ranges, negation,
// disjunction) are deliberately not expressible here.
type Filter map[string]any

// conditions renders the filter as Qdrant must-clauses, sorted by key so the
// request body is deterministic.
func (f Filter) conditions() ([]map[string]any, error) {
	if len(f) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		scalar, ok := toScalarValue(f[key])
		if !ok {
			return nil, faults.New(
				faults.KindValidation,
				"qdrant.filter",
				fmt.Sprintf("field %q expects a scalar value, got %T", key, f[key]),
			)
		}
		out = append(out, matchCondition(key, scalar))
	}
	return out, nil
}

func (f Filter) asMap() (map[string]any, error) {
	must, err := f.conditions()
	if err != nil {
		return nil, err
	}
	if len(must) == 0 {
		return nil, nil
	}
	return map[string]any{"must": must}, nil
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func toScalarValue(value any) (any, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case bool:
		return typed, true
	case int:
		return typed, true
	case int8:
		return int(typed), true
	case int16:
		return int(typed), true
	case int32:
		return int(typed), true
	case int64:
		return typed, true
	case uint:
		return typed, true
	case uint8:
		return uint(typed), true
	case uint16:
		return uint(typed), true
	case uint32:
		return uint(typed), true
	case uint64:
		return typed, true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case fmt.Stringer:
		return typed.String(), true
	default:
		return nil, false
	}
}
