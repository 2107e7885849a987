// Package netstate provides the network reachability signal that arms the
// sync dispatcher.
package netstate

import (
	"sync"
)

// Listener is called with the new state on every change.
type Listener func(online bool)

// Monitor holds the current reachability state and notifies listeners on
// transitions. Setting the same state twice notifies nobody.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor creates a Monitor with an initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, listeners: make(map[int]Listener)}
}

// Online returns the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state. Listeners run synchronously, outside the lock,
// only when the state changed. It reports whether it did.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
	return true
}

// Subscribe registers l and returns a function that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
