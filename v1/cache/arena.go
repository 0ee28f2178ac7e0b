package cache

import "time"

// handle addresses a slot in the arena. Handles stay valid until the slot is
// released; released slots are recycled through the free list.
type handle int32

const nilHandle handle = -1

type slot[T any] struct {
	key     string
	value   T
	written time.Time
	prev    handle
	next    handle
}

// recency is a doubly linked list of slots ordered from least recently used
// (head) to most recently used (tail). Links are arena indices, not pointers.
type recency[T any] struct {
	slots []slot[T]
	free  []handle
	head  handle
	tail  handle
	n     int
}

func newRecency[T any](capacity int) recency[T] {
	// One spare slot: an insert links the new entry before the victim is
	// released.
	return recency[T]{
		slots: make([]slot[T], 0, capacity+1),
		head:  nilHandle,
		tail:  nilHandle,
	}
}

// alloc stores a new unlinked slot and returns its handle.
func (r *recency[T]) alloc(key string, value T, written time.Time) handle {
	s := slot[T]{key: key, value: value, written: written, prev: nilHandle, next: nilHandle}
	if n := len(r.free); n > 0 {
		h := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[h] = s
		return h
	}
	r.slots = append(r.slots, s)
	return handle(len(r.slots) - 1)
}

// pushBack links h as the most recently used slot.
func (r *recency[T]) pushBack(h handle) {
	s := &r.slots[h]
	s.prev = r.tail
	s.next = nilHandle
	if r.tail != nilHandle {
		r.slots[r.tail].next = h
	} else {
		r.head = h
	}
	r.tail = h
	r.n++
}

func (r *recency[T]) unlink(h handle) {
	s := &r.slots[h]
	if s.prev != nilHandle {
		r.slots[s.prev].next = s.next
	} else {
		r.head = s.next
	}
	if s.next != nilHandle {
		r.slots[s.next].prev = s.prev
	} else {
		r.tail = s.prev
	}
	s.prev, s.next = nilHandle, nilHandle
	r.n--
}

func (r *recency[T]) moveToBack(h handle) {
	if r.tail == h {
		return
	}
	r.unlink(h)
	r.pushBack(h)
}

// release unlinks h, clears the slot so the value can be collected and
// returns the handle to the free list.
func (r *recency[T]) release(h handle) {
	r.unlink(h)
	r.slots[h] = slot[T]{prev: nilHandle, next: nilHandle}
	r.free = append(r.free, h)
}

func (r *recency[T]) reset() {
	r.slots = r.slots[:0]
	r.free = r.free[:0]
	r.head, r.tail = nilHandle, nilHandle
	r.n = 0
}
