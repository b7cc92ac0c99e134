// Package reachability reports whether the recipe service can currently
// be reached.
//
// Consumers either poll Connected (the reconciler reads it once per
// tick) or Subscribe to transitions (the session triggers a cycle when
// the network comes back).
package reachability

import "sync"

// Monitor reports the latest known connectivity.
type Monitor interface {
	Connected() bool
}

// Subscriber is a Monitor that also publishes transitions.
type Subscriber interface {
	Monitor
	Subscribe() (<-chan bool, func())
}

// broadcaster fans a connectivity value out to subscribers. Each
// subscriber channel holds only the newest value.
type broadcaster struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]chan bool
	nextID    int
}

func (b *broadcaster) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// set stores v and reports whether it changed.
func (b *broadcaster) set(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected == v {
		return false
	}
	b.connected = v
	for _, ch := range b.subs {
		// Drop a stale unread value so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
	return true
}

func (b *broadcaster) Subscribe() (<-chan bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan bool)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan bool, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Static is a Monitor whose state is set by the caller.
type Static struct {
	broadcaster
}

// NewStatic returns a monitor with the given initial state.
func NewStatic(connected bool) *Static {
	s := &Static{}
	s.connected = connected
	return s
}

// SetConnected changes the state and notifies subscribers on transition.
func (s *Static) SetConnected(v bool) {
	s.set(v)
}
