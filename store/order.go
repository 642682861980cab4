package store

import "slices"

// Reordered returns ids with front moved to the beginning in the given
// order; the remaining IDs keep their relative order. It returns the first
// ID of front missing from ids, if any.
func Reordered(ids, front []ID) ([]ID, ID, bool) {
	out := make([]ID, 0, len(ids))
	seen := make(map[ID]bool, len(front))
	for _, id := range front {
		if !slices.Contains(ids, id) {
			return nil, id, false
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out, "", true
}
