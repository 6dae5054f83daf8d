package session

import (
	"errors"
	"sync"

	"github.com/zlnvch/boardsync/metrics"
)

// ErrLagged is reported by a Subscription that fell further behind than the
// broadcast backlog. Its connection must be closed.
var ErrLagged = errors.New("subscriber lagged behind broadcast backlog")

// Broadcaster fans encoded messages out to subscribers in publish order.
// Each subscriber has a buffer of backlog messages. A subscriber whose
// buffer is full is dropped, never skipped over.
type Broadcaster struct {
	mu      sync.Mutex
	backlog int
	subs    map[*Subscription]struct{}
	closed  bool
}

func NewBroadcaster(backlog int) *Broadcaster {
	if backlog < 1 {
		backlog = 1
	}
	return &Broadcaster{
		backlog: backlog,
		subs:    make(map[*Subscription]struct{}),
	}
}

type Subscription struct {
	b      *Broadcaster
	ch     chan []byte
	lagged bool // guarded by b.mu
	done   bool // guarded by b.mu
}

// Subscribe registers a new subscriber. On a closed broadcaster the returned
// subscription is already finished.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{b: b, ch: make(chan []byte, b.backlog)}
	if b.closed {
		sub.done = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish never blocks.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- data:
		default:
			sub.lagged = true
			b.removeLocked(sub)
			metrics.BroadcastLagged.Inc()
		}
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close finishes every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub)
	}
}

func (b *Broadcaster) removeLocked(sub *Subscription) {
	if sub.done {
		return
	}
	sub.done = true
	delete(b.subs, sub)
	close(sub.ch)
}

// C yields messages until the subscription ends, then is closed.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Err returns ErrLagged if the subscription was dropped for lagging.
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.lagged {
		return ErrLagged
	}
	return nil
}

func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s)
}
