package mapping

import (
	"strconv"
	"strings"
)

// Payloads and form data are free-form JSON; values are the usual
// encoding/json shapes (nil, bool, float64, string, []any, map[string]any).
// Dotted paths address into that tree, with bare integers indexing lists,
// e.g. "lead.form_data.windows.0.type".

// Lookup resolves a dotted path against a value tree. The second return is
// false when any path segment is missing or the value at it is nil.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	current := root
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

// SetPath writes a value into target at a dotted path, creating intermediate
// maps as needed. List segments are not created on write; outbound payload
// shapes are maps all the way down.
func SetPath(target map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	node := target
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}
