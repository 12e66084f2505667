// Package history provides the bounded append-only buffers backing the loop's
// error, snapshot, and interaction records. Oldest entries are dropped once
// the capacity is reached so history never grows without bound.
package history

// Ring is a fixed-capacity append-only buffer. Not safe for concurrent use;
// callers synchronize access the same way they guard the state it belongs to.
type Ring[T any] struct {
	capacity int
	items    []T
	start    int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// Append adds v, evicting the oldest entry when full.
func (r *Ring[T]) Append(v T) {
	if len(r.items) < r.capacity {
		r.items = append(r.items, v)
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// Capacity returns the fixed maximum number of entries.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Items returns a copy of the entries, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, len(r.items))
	for i := 0; i < len(r.items); i++ {
		out = append(out, r.items[(r.start+i)%r.capacity])
	}
	return out
}

// Clear drops all entries, keeping the capacity.
func (r *Ring[T]) Clear() {
	r.items = r.items[:0]
	r.start = 0
}
