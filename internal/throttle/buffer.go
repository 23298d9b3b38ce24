// Package throttle turns the recognizer's live text stream into a throttled
// search signal.
//
// Each live snapshot is the whole utterance so far. A snapshot shorter than
// half the previous one starts a new utterance, and the previous snapshot is
// committed to a rolling buffer of recent speech. Searches are leading-edge
// throttled: the first eligible update fires at once, then no search fires
// until the cooldown expires.
package throttle

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/transcript"
)

const (
	DefaultCapacity = 500
	DefaultCooldown = 5 * time.Second
	DefaultMinChars = 3
)

// State is the throttle phase.
type State int

const (
	StateIdle State = iota
	StateCooldown
)

func (s State) String() string {
	if s == StateCooldown {
		return "cooldown"
	}
	return "idle"
}

// Sink receives the throttle's decisions.
type Sink interface {
	// Search fires a search for the buffered content.
	Search(query string)

	// Clear removes any displayed results.
	Clear()
}

// Config sizes the buffer and throttle window.
type Config struct {
	Capacity int
	Cooldown time.Duration
	MinChars int
}

// Buffer is the rolling window of recent speech plus the throttle state.
type Buffer struct {
	cfg   Config
	sink  Sink
	sched Scheduler
	log   *logging.Logger

	mu          sync.Mutex
	committed   string
	current     string
	state       State
	gen         uint64
	timer       Timer
	searches    int
	republished bool
}

// New creates a buffer. A nil scheduler uses real timers.
func New(cfg Config, sink Sink, sched Scheduler) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if sched == nil {
		sched = RealScheduler{}
	}
	return &Buffer{
		cfg:   cfg,
		sink:  sink,
		sched: sched,
		log:   logging.New("throttle"),
	}
}

// OnLiveText consumes one live snapshot and fires at most one search.
//
// Updates that arrive during cooldown still move the buffer forward so the
// next search uses the freshest speech, but they never trigger or queue a
// search themselves.
func (b *Buffer) OnLiveText(text string) {
	text = normalize(text)

	b.mu.Lock()
	if b.current != "" && 2*utf8.RuneCountInString(text) < utf8.RuneCountInString(b.current) {
		b.committed = tail(join(b.committed, b.current), b.cfg.Capacity)
	}
	b.current = text
	content := b.contentLocked()

	if meaningful(content) < b.cfg.MinChars {
		b.mu.Unlock()
		b.sink.Clear()
		return
	}

	if b.state == StateCooldown {
		b.mu.Unlock()
		return
	}

	b.state = StateCooldown
	b.gen++
	gen := b.gen
	b.searches++
	b.timer = b.sched.AfterFunc(b.cfg.Cooldown, func() { b.endCooldown(gen) })
	b.mu.Unlock()

	b.log.Debug("search_fired", map[string]interface{}{"chars": utf8.RuneCountInString(content)})
	b.sink.Clear()
	b.sink.Search(content)
}

// OnTranscriptText feeds text read from a transcript file, with invocation
// markers and timestamps removed.
func (b *Buffer) OnTranscriptText(text string) {
	b.OnLiveText(transcript.StripMarkers(text))
}

func (b *Buffer) endCooldown(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}
	b.state = StateIdle
	b.timer = nil
}

// Reset clears the buffer and returns to idle. Called at session start.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.committed = ""
	b.current = ""
	b.state = StateIdle
	b.searches = 0
	b.republished = false
}

// Content returns what a search fired now would query.
func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contentLocked()
}

func (b *Buffer) contentLocked() string {
	return tail(join(b.committed, b.current), b.cfg.Capacity)
}

// State returns the current throttle phase.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Searches returns how many searches fired since the last Reset.
func (b *Buffer) Searches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.searches
}

// ClaimRepublish returns true exactly once per session, for the first result
// set, so the caller can schedule its one compensating re-publish.
func (b *Buffer) ClaimRepublish() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.republished || b.searches == 0 {
		return false
	}
	b.republished = true
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Text helpers
// ─────────────────────────────────────────────────────────────────────────────

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	drop := count - n
	for i := range s {
		if drop == 0 {
			return s[i:]
		}
		drop--
	}
	return ""
}

func meaningful(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
