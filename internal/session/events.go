package session

import "time"

type EventType string

const (
	EventReady        EventType = "ready"
	EventShellOpened  EventType = "shell-opened"
	EventShellClosed  EventType = "shell-closed"
	EventClosed       EventType = "closed"
	subscriberBacklog           = 32
)

// Event is a lifecycle notification for one host.
type Event struct {
	Host string
	Type EventType
	// Err is set when a connection ended without being closed locally.
	Err error
	At  time.Time
}

// Subscribe returns a channel of lifecycle events and a function that stops the
// subscription. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBacklog)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.subMu.Unlock()

	var cancelled bool
	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		delete(m.subscribers, id)
		close(ch)
	}
	return ch, cancel
}

func (m *Manager) emit(host string, typ EventType, err error) {
	ev := Event{Host: host, Type: typ, Err: err, At: time.Now()}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropping lifecycle event for slow subscriber", "host", host, "event", typ)
		}
	}
}
