// Package buffer implements the Learning Buffer (§4.7): a bounded queue
// between the hot request path and the Behavior Store, so that schema
// merges and EMA updates never compete with request handling for CPU or
// locks. The producer side never blocks; on overflow the oldest queued
// transaction is dropped.
package buffer

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// DefaultCapacity is the §4.7 default queue capacity.
const DefaultCapacity = 1024

// Transaction is one observed request/response pair queued for
// consolidation into the Behavior Store.
type Transaction struct {
	Method      string
	Path        string
	EndpointKey string
	Status      int
	LatencyMS   float64
	ReqHeaders  http.Header
	ReqBody     []byte
	RespHeaders http.Header
	RespBody    []byte
	Timestamp   time.Time
	Mocked      bool
	Chaos       bool
}

// Buffer is a bounded, drop-oldest FIFO queue of Transactions backed by a
// fixed-size circular array. head is the index of the oldest queued item;
// count is the number currently queued. Both Enqueue's drop-oldest path and
// Dequeue's pop-oldest path advance head by one slot — neither ever
// reslices or reallocates the backing array, so both are true worst-case
// O(1), not merely amortized (§8, Testable Property 7).
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	ring     []Transaction
	capacity int
	head     int
	count    int

	dropped int64
	closed  bool
}

// New returns a Buffer with the given capacity. capacity <= 0 falls back
// to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{capacity: capacity, ring: make([]Transaction, capacity)}
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// tail returns the index one past the newest queued item.
func (b *Buffer) tail() int {
	return (b.head + b.count) % b.capacity
}

// Enqueue adds tx without blocking. If the buffer is full, the oldest
// queued transaction is dropped and Dropped() is incremented.
func (b *Buffer) Enqueue(tx Transaction) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.count == b.capacity {
		b.ring[b.head] = Transaction{} // drop reference to the overwritten item
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.dropped++
	}
	b.ring[b.tail()] = tx
	b.count++
	b.mu.Unlock()
	b.notEmpty.Signal()
}

// Dequeue blocks until a Transaction is available, the buffer is closed,
// or ctx is cancelled. ok is false once the buffer is closed and drained.
func (b *Buffer) Dequeue(ctx context.Context) (tx Transaction, ok bool) {
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			close(done)
			b.notEmpty.Broadcast()
		})
		defer stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.count == 0 && !b.closed {
		select {
		case <-done:
			return Transaction{}, false
		default:
		}
		b.notEmpty.Wait()
	}
	if b.count == 0 {
		return Transaction{}, false
	}
	tx = b.ring[b.head]
	b.ring[b.head] = Transaction{}
	b.head = (b.head + 1) % b.capacity
	b.count--
	return tx, true
}

// Close marks the buffer closed and wakes any blocked Dequeue callers.
// Enqueue becomes a no-op after Close.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notEmpty.Broadcast()
}

// Len returns the number of queued, undelivered transactions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the cumulative number of transactions dropped due to
// overflow.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Drain removes and returns every queued transaction, oldest first,
// without blocking. Used at shutdown, after the grace period, to collect
// (and discard) whatever the consolidator did not reach.
func (b *Buffer) Drain() []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transaction, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.ring[(b.head+i)%b.capacity]
	}
	b.head, b.count = 0, 0
	return out
}
