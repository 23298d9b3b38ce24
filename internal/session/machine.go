package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joss/copilot/internal/logging"
)

var (
	// ErrNoPartner is returned when a session is started without a partner.
	ErrNoPartner = errors.New("session requires a partner")

	// ErrModeConflict is returned when another interactive mode is active.
	ErrModeConflict = errors.New("another interactive mode is active")

	// ErrAlreadyActive is returned when a session is already running.
	ErrAlreadyActive = errors.New("session already active")
)

// Origin reports the recognizer's session-start time.
type Origin interface {
	SessionStart() (time.Time, bool)
}

// BeginOptions are the per-call settings of a new session.
type BeginOptions struct {
	TranscriptPath string
	AudioPath      string
	Recording      bool
}

// Machine is the inactive/active session state machine.
type Machine struct {
	mu          sync.Mutex
	mode        Mode
	cur         *Session
	origin      Origin
	lastElapsed float64
	now         func() time.Time
	log         *logging.Logger
}

// NewMachine creates an inactive machine. origin may be nil, in which case
// every invocation has zero elapsed time.
func NewMachine(origin Origin) *Machine {
	return &Machine{
		origin: origin,
		now:    time.Now,
		log:    logging.New("session"),
	}
}

// SetOrigin replaces the elapsed-time origin.
func (m *Machine) SetOrigin(origin Origin) {
	m.mu.Lock()
	m.origin = origin
	m.mu.Unlock()
}

// Mode returns the active interactive mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// EnterMode switches to a non-copilot interactive mode.
func (m *Machine) EnterMode(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == ModeCopilot {
		return fmt.Errorf("use Begin to enter %s mode", mode)
	}
	if m.mode != ModeNone && m.mode != mode {
		return fmt.Errorf("%w: %s", ErrModeConflict, m.mode)
	}
	m.mode = mode
	return nil
}

// ExitMode leaves a non-copilot mode. Leaving a mode that is not active is a no-op.
func (m *Machine) ExitMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode != ModeCopilot && m.mode == mode {
		m.mode = ModeNone
	}
}

// Begin moves inactive to active.
func (m *Machine) Begin(p Partner, opts BeginOptions) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		return Snapshot{}, ErrNoPartner
	}
	if m.cur != nil {
		return Snapshot{}, ErrAlreadyActive
	}
	if m.mode != ModeNone {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrModeConflict, m.mode)
	}

	m.cur = &Session{
		ID:             uuid.New().String(),
		Partner:        p,
		Start:          m.now(),
		Recording:      opts.Recording,
		TranscriptPath: opts.TranscriptPath,
		AudioPath:      opts.AudioPath,
	}
	m.mode = ModeCopilot
	m.lastElapsed = 0

	m.log.WithSession(m.cur.ID).Info("session_started", map[string]interface{}{
		"partner":   p.ID,
		"recording": opts.Recording,
	})
	return m.cur.snapshot(), nil
}

// Active reports whether a session is running.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Current returns a copy of the running session.
func (m *Machine) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Snapshot{}, false
	}
	return m.cur.snapshot(), true
}

// RecordInvocation appends an invocation for item. Outside a session it is a
// no-op that logs a warning and returns false.
func (m *Machine) RecordInvocation(item Item) (Invocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		m.log.Warn("invocation_without_session", map[string]interface{}{"item": item.ID}, nil)
		return Invocation{}, false
	}

	now := m.now()
	elapsed := m.elapsedLocked(now)
	inv := Invocation{
		ID:        ulid.Make().String(),
		Timestamp: now,
		Elapsed:   elapsed,
		ItemID:    item.ID,
		ItemName:  item.Name,
	}
	m.cur.Invocations = append(m.cur.Invocations, inv)

	m.log.WithSession(m.cur.ID).Info("item_invoked", map[string]interface{}{
		"item":    item.ID,
		"elapsed": elapsed,
	})
	return inv, true
}

// elapsedLocked measures from the recognizer origin, falls back to zero and
// never goes backwards within a session.
func (m *Machine) elapsedLocked(now time.Time) float64 {
	var elapsed float64
	if m.origin != nil {
		if start, ok := m.origin.SessionStart(); ok {
			elapsed = now.Sub(start).Seconds()
		}
	}
	if elapsed < m.lastElapsed {
		elapsed = m.lastElapsed
	}
	m.lastElapsed = elapsed
	return elapsed
}

// AppendFinal mirrors one final text chunk. Ignored outside a session.
func (m *Machine) AppendFinal(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.finals = append(m.cur.finals, text)
	}
}

// End moves active to inactive. It returns a detached snapshot and clears
// all per-session state; ok is false when no session was active.
func (m *Machine) End() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return Snapshot{}, false
	}

	m.cur.End = m.now()
	snap := m.cur.snapshot()

	m.cur = nil
	m.mode = ModeNone
	m.lastElapsed = 0

	m.log.WithSession(snap.ID).Info("session_ended", map[string]interface{}{
		"invocations": len(snap.Invocations),
		"duration_ms": snap.Duration().Milliseconds(),
	})
	return snap, true
}
