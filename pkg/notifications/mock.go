package notifications

import "sync"

// MockNotifier records alerts for assertions in tests.
type MockNotifier struct {
	mu     sync.Mutex
	Events []Event
}

var _ Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

// Sent returns a copy of the recorded alerts.
func (m *MockNotifier) Sent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.Events))
	copy(out, m.Events)
	return out
}
