// Package queue provides the pending list used by the write-behind
// store: a FIFO whose batches can be put back at the head after a failed
// flush, so retried rows never reorder relative to newer entries.
package queue

// Pending is an unbounded FIFO of rows awaiting a durable write. It is
// not synchronized; the owner guards it with its own lock and never
// holds that lock during I/O.
type Pending[T any] struct {
	items []T
}

// Push appends rows in arrival order.
func (p *Pending[T]) Push(items ...T) {
	p.items = append(p.items, items...)
}

// DrainAll removes and returns everything, oldest first. Returns nil
// when empty.
func (p *Pending[T]) DrainAll() []T {
	if len(p.items) == 0 {
		return nil
	}
	out := p.items
	p.items = nil
	return out
}

// RequeueHead puts a failed batch back in front of anything enqueued
// since it was drained, preserving the original order.
func (p *Pending[T]) RequeueHead(batch []T) {
	if len(batch) == 0 {
		return
	}
	p.items = append(append(make([]T, 0, len(batch)+len(p.items)), batch...), p.items...)
}

// Len returns the number of pending rows.
func (p *Pending[T]) Len() int { return len(p.items) }
