// Package broadcast implements the Live Broadcaster (§4.9): best-effort
// fan-out of consolidated transaction events to subscribed observers (the
// admin `/admin/stream` websocket, in this build), never blocking
// consolidation on a slow subscriber.
package broadcast

import (
	"sync"
	"time"
)

// queueCapacity is the per-subscriber bounded queue size (§4.9, §5); a
// subscriber whose queue is still full after maxSendWait is disconnected.
const queueCapacity = 32

// maxSendWait is a var (not const) so tests can shrink it rather than
// waiting out a full second of real time.
var maxSendWait = time.Second

// Event is emitted once per consolidated transaction.
type Event struct {
	EndpointKey string
	Method      string
	Status      int
	LatencyMS   float64
	Mocked      bool
	Chaos       bool
	HealthScore int
}

type subscriber struct {
	id int64
	ch chan Event
}

// Broadcaster fans Event values out to subscribers, each with its own
// bounded queue so one slow reader cannot stall another.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int64]*subscriber
	nextID      int64

	disconnected int64 // cumulative count of subscribers dropped for being slow
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int64]*subscriber)}
}

// Subscribe registers a new subscriber and returns its receive channel and
// an unsubscribe function. The channel is closed on Unsubscribe or when
// the subscriber is disconnected for being too slow.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Event, queueCapacity)}
	b.subscribers[id] = sub

	unsubscribe := func() { b.remove(id) }
	return sub.ch, unsubscribe
}

func (b *Broadcaster) remove(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans ev out to every current subscriber. Delivery is best-
// effort and asynchronous per subscriber: Publish itself never blocks
// longer than it takes to enqueue into each subscriber's own channel or
// hand off a slow-path goroutine for it.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			go b.slowSend(sub, ev)
		}
	}
}

// slowSend waits up to maxSendWait for room in a full subscriber queue,
// then disconnects the subscriber if it still can't deliver.
func (b *Broadcaster) slowSend(sub *subscriber, ev Event) {
	timer := time.NewTimer(maxSendWait)
	defer timer.Stop()
	select {
	case sub.ch <- ev:
	case <-timer.C:
		b.mu.Lock()
		b.disconnected++
		b.mu.Unlock()
		b.remove(sub.id)
	}
}

// Disconnected returns the cumulative count of subscribers dropped for
// being too slow to keep up.
func (b *Broadcaster) Disconnected() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

// SubscriberCount returns the number of currently subscribed observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
