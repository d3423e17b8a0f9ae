// Package dedup collapses consecutive duplicate change events. Only
// back-to-back duplicates collapse: interleavings with other resources are
// ordering-significant and must survive.
package dedup

// Key identifies a change event for duplicate detection. EventName is
// deliberately absent: a created immediately followed by an updated of the
// same resource still collapses to the later entry.
type Key struct {
	ResourceClass string
	ResourceID    string
	Topic         string
}

// Consecutive drops every item whose key equals the key of the item
// immediately following it, keeping the later one. Items for which keyOf
// reports false never collapse.
func Consecutive[T any](items []T, keyOf func(T) (Key, bool)) []T {
	if len(items) < 2 {
		return items
	}
	out := make([]T, 0, len(items))
	for i := 0; i < len(items); i++ {
		if i+1 < len(items) {
			cur, okCur := keyOf(items[i])
			next, okNext := keyOf(items[i+1])
			if okCur && okNext && cur == next {
				continue
			}
		}
		out = append(out, items[i])
	}
	return out
}
