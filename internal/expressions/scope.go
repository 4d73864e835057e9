package expressions

// BuildScope assembles the root view that transform and condition steps
// evaluate against: "input" holds the original workflow input, and every
// completed step contributes its result data under its own id.
//
// Values are shared, not copied. Execution contexts never mutate result
// data after a step completes, so sharing is safe; the one place a copy is
// required is the caller-owned input, which the context copies once at
// construction with CopyValue.
func BuildScope(input any, results map[string]any) map[string]any {
	scope := make(map[string]any, len(results)+1)
	for stepID, data := range results {
		scope[stepID] = data
	}
	scope["input"] = input
	return scope
}

// CopyMap creates a deep copy of a map[string]any.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = CopyValue(v)
	}
	return cp
}

// CopyValue recursively deep-copies a value. Maps and slices are cloned;
// primitives (string, float64, bool, nil, ints) are value types and pass
// through unchanged.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = CopyValue(item)
		}
		return cp
	default:
		return v
	}
}
