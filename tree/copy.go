package tree

// DeepCopy returns a copy of v that shares no mutable state with it.
// It understands the shapes produced by JSON decoding: objects, arrays and
// scalars. Scalars are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		if val == nil {
			return []any(nil)
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	case map[string]string:
		if val == nil {
			return map[string]string(nil)
		}
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []string:
		if val == nil {
			return []string(nil)
		}
		return append([]string(nil), val...)
	case []byte:
		if val == nil {
			return []byte(nil)
		}
		return append([]byte(nil), val...)
	default:
		return v
	}
}
