package model

// Args is a dynamic argument bag attached to slices, counters, instants,
// snapshots and dumps. Values are JSON scalars, []any, map[string]any, or
// *ObjectSnapshot once implicit snapshots have been lifted.
type Args map[string]any

// DeepCopy clones the bag. Nested maps and arrays are copied; snapshot
// references are leaves and stay shared.
func (a Args) DeepCopy() Args {
	if a == nil {
		return nil
	}
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopyValue(e)
		}
		return out
	case Args:
		return map[string]any(v.DeepCopy())
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
