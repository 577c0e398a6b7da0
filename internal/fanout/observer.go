package fanout

import (
	"context"
	"sync"

	"github.com/tphakala/fieldwatch/internal/alert"
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	enqueueDropped
	enqueueOverflow
)

// observer is one subscriber. failures is owned by the pump goroutine.
type observer struct {
	id     string
	out    chan alert.Event
	signal chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    *ring
	seq      uint64
	failures int
}

func (o *observer) enqueue(ev alert.Event, policy OverflowPolicy) enqueueResult {
	o.mu.Lock()
	result := enqueued
	if o.queue.full() {
		if policy != DropOldest {
			o.mu.Unlock()
			return enqueueOverflow
		}
		o.queue.pop()
		result = enqueueDropped
	}
	o.seq++
	o.queue.push(queued{seq: o.seq, event: ev})
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return result
}

func (o *observer) peek() (queued, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.peek()
}

// ack removes the delivered event unless drop-oldest already evicted it
func (o *observer) ack(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if head, ok := o.queue.peek(); ok && head.seq == seq {
		o.queue.pop()
	}
}

type queued struct {
	seq   uint64
	event alert.Event
}

// ring is a fixed capacity FIFO
type ring struct {
	buf  []queued
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]queued, capacity)}
}

func (r *ring) full() bool { return r.size == len(r.buf) }

func (r *ring) push(q queued) {
	r.buf[(r.head+r.size)%len(r.buf)] = q
	r.size++
}

func (r *ring) peek() (queued, bool) {
	if r.size == 0 {
		return queued{}, false
	}
	return r.buf[r.head], true
}

func (r *ring) pop() {
	if r.size == 0 {
		return
	}
	r.buf[r.head] = queued{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
}
