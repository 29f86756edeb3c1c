package l4state

// Ring is a fixed-capacity FIFO buffer. Once full, each Add overwrites
// the oldest element.
type Ring[T any] struct {
	items    []T
	capacity int
	head     int // next write position
	size     int
}

// NewRing creates a ring buffer. Capacities below 1 are raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add stores v, evicting the oldest element when at capacity.
func (r *Ring[T]) Add(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Previous returns the element n steps back from the most recent.
// Previous(1) is the most recently added element.
func (r *Ring[T]) Previous(n int) (T, bool) {
	var zero T
	if n < 1 || n > r.size {
		return zero, false
	}
	idx := (r.head - n + r.capacity) % r.capacity
	return r.items[idx], true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	return r.size
}

// Capacity returns the maximum number of stored elements.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all elements.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// All returns the stored elements from oldest to newest.
func (r *Ring[T]) All() []T {
	if r.size == 0 {
		return nil
	}
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head-r.size+i+r.capacity)%r.capacity]
	}
	return out
}
