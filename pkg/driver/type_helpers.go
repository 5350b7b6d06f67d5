package driver

import (
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// asTime converts a store-native datetime value to a time.Time. Values
// without a zone are interpreted as UTC so the service always works with
// absolute instants.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case dbtype.LocalDateTime:
		return t.Time().UTC(), true
	case dbtype.Date:
		return t.Time().UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// asTimePtr is asTime for nullable columns.
func asTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	if t, ok := asTime(v); ok {
		return &t
	}
	return nil
}

// asString extracts a string, returning "" for null or mismatched types.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asStringSlice converts a driver list value to []string.
func asStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// asFloat32Slice converts a driver vector value to []float32. Bolt
// round-trips vectors as []any of float64.
func asFloat32Slice(v any) []float32 {
	switch list := v.(type) {
	case []float32:
		return list
	case []float64:
		out := make([]float32, len(list))
		for i, f := range list {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(list))
		for _, item := range list {
			switch f := item.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

// float32sToFloat64s widens a vector for the bolt wire format, which only
// carries doubles.
func float32sToFloat64s(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// asMap extracts a nested property map.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// vectorNorm is the L2 norm of a query vector, precomputed host-side so
// the similarity Cypher only normalizes the stored embedding.
func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return 1
	}
	return math.Sqrt(sum)
}

// isSafeLabel guards dynamic label interpolation. Labels come from the
// configured entity schema, never from request bodies, but Cypher has no
// label parameters so we still restrict to identifier characters.
func isSafeLabel(label string) bool {
	if label == "" {
		return false
	}
	for i, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
