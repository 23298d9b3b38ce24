package recognizer

import "sync"

// mailbox holds at most one pending value. A put overwrites anything not yet
// taken, so a slow consumer only ever sees the newest text.
type mailbox struct {
	mu     sync.Mutex
	val    string
	full   bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) put(v string) {
	m.mu.Lock()
	m.val = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return "", false
	}
	v := m.val
	m.val, m.full = "", false
	return v, true
}
