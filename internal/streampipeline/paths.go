package streampipeline

import "strconv"

// ExtractPath walks a dotted path through decoded JSON data. A segment
// that parses as an integer indexes into a []any (a negative or
// out-of-range index fails); any other segment indexes into a
// map[string]any. Returns ok=false the moment the
// path cannot be followed further.
func ExtractPath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := data
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		seg := path[start:i]
		start = i + 1

		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
