package storage

import (
	"encoding/json"
	"strconv"

	"github.com/poiesic/pagerag/core"
)

// MatchFilter evaluates filter against record metadata. A nil or empty
// filter matches everything; conditions are ANDed:
//   - Source: equality on "source"
//   - Tags: "tags" shares at least one element with Tags
//   - Created/Updated bounds: inclusive range on "created_at"/"updated_at"
//
// A bounded field that is missing or not numeric fails the condition.
func MatchFilter(filter *core.SearchFilter, metadata map[string]any) bool {
	if filter.IsEmpty() {
		return true
	}
	if filter.Source != "" {
		if s, _ := metadata["source"].(string); s != filter.Source {
			return false
		}
	}
	if len(filter.Tags) > 0 && !intersects(metadata["tags"], filter.Tags) {
		return false
	}
	if !inRange(metadata["created_at"], filter.CreatedAfter, filter.CreatedBefore) {
		return false
	}
	if !inRange(metadata["updated_at"], filter.UpdatedAfter, filter.UpdatedBefore) {
		return false
	}
	return true
}

func intersects(value any, want []string) bool {
	var have []string
	switch v := value.(type) {
	case []string:
		have = v
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				have = append(have, s)
			}
		}
	default:
		return false
	}
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func inRange(value any, after, before *int64) bool {
	if after == nil && before == nil {
		return true
	}
	n, ok := Number(value)
	if !ok {
		return false
	}
	if after != nil && n < float64(*after) {
		return false
	}
	if before != nil && n > float64(*before) {
		return false
	}
	return true
}

// Number converts the numeric shapes metadata values take after a JSON
// round trip, or in memory, to float64.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
