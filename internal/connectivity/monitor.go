// Package connectivity tracks whether the remote is reachable and turns
// reachability into transitions the sync coordinator can subscribe to.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transition is one change of reachability.
type Transition struct {
	Online bool
	// Reconnected is set on offline -> online transitions only.
	Reconnected bool
	At          time.Time
}

// Monitor holds the current online state. Feed it with Set (or a Prober);
// consumers either poll Online/Reconnected or Subscribe to transitions.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	reconnected bool
	subs        map[chan Transition]struct{}
	now         func() time.Time
}

// New creates a Monitor with an initial state. Starting offline means the
// first successful observation counts as a reconnect.
func New(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[chan Transition]struct{}),
		now:    time.Now,
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Reconnected returns true exactly once per offline -> online transition.
// Reading it clears it.
func (m *Monitor) Reconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reconnected
	m.reconnected = false
	return r
}

// Set records an observation. Only changes produce a transition; repeated
// observations of the same state are ignored.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	t := Transition{Online: online, At: m.now()}
	if online {
		m.reconnected = true
		t.Reconnected = true
	} else {
		// a reconnect nobody consumed before dropping again is stale
		m.reconnected = false
	}
	slog.Info("connectivity: transition", "online", online)

	for ch := range m.subs {
		// keep only the newest transition for a slow subscriber
		select {
		case ch <- t:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}
}

// Subscribe returns a channel of transitions until ctx is done, at which
// point the channel is closed. A reader that falls behind sees only the
// latest transition.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	})
	return ch
}

// Subscribers returns the number of open subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
