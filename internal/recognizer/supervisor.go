// Package recognizer supervises the external speech-to-text process: it
// spawns it, parses its stdout protocol into live and final text, classifies
// its stderr and stops it in two phases.
package recognizer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/protocol"
)

const (
	component          = "recognizer"
	defaultStopTimeout = 2 * time.Second
	maxLineSize        = 1024 * 1024
	finalQueueSize     = 256
)

// Notifier is the user-visible notification surface.
type Notifier interface {
	Send(level alerts.Level, component, title, message string, ctx map[string]interface{}) *alerts.Alert
	Notify(level alerts.Level, component, title, message string) alerts.Alert
}

// StartOptions are the per-call paths handed to the recognizer.
type StartOptions struct {
	// TranscriptPath is the file the recognizer appends final text to
	TranscriptPath string

	// AudioPath receives the raw call recording; empty disables recording
	AudioPath string
}

// run is one recognizer process lifetime.
type run struct {
	proc      exec.Process
	startedAt time.Time
	done      chan struct{}
	ready     atomic.Bool
	stopping  atomic.Bool

	// cause is the last known failure the recognizer printed on stdout
	// before exiting
	causeMu sync.Mutex
	cause   *Error
}

func (r *run) setCause(e *Error) {
	r.causeMu.Lock()
	r.cause = e
	r.causeMu.Unlock()
}

func (r *run) lastCause() *Error {
	r.causeMu.Lock()
	defer r.causeMu.Unlock()
	return r.cause
}

// Supervisor owns at most one recognizer process.
//
// Live text is delivered through a single-slot mailbox, so callbacks only see
// the newest snapshot. Final text is delivered in order, each chunk exactly
// once. Callbacks run on supervisor goroutines and must not call Stop.
type Supervisor struct {
	cfg    config.RecognizerConfig
	runner exec.Runner
	notify Notifier
	log    *logging.Logger
	now    func() time.Time

	mu  sync.Mutex
	cur *run

	cbMu    sync.RWMutex
	onLive  func(string)
	onFinal func(string)
	onError func(*Error)
}

// New creates a supervisor. notify may be nil.
func New(cfg config.RecognizerConfig, runner exec.Runner, notify Notifier) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Supervisor{
		cfg:    cfg,
		runner: runner,
		notify: notify,
		log:    logging.New(component),
		now:    time.Now,
	}
}

// SetLiveTextCallback sets the consumer of live text snapshots.
func (s *Supervisor) SetLiveTextCallback(fn func(string)) {
	s.cbMu.Lock()
	s.onLive = fn
	s.cbMu.Unlock()
}

// SetFinalTextCallback sets the consumer of final text chunks.
func (s *Supervisor) SetFinalTextCallback(fn func(string)) {
	s.cbMu.Lock()
	s.onFinal = fn
	s.cbMu.Unlock()
}

// SetErrorCallback sets the consumer of surfaced recognizer errors.
func (s *Supervisor) SetErrorCallback(fn func(*Error)) {
	s.cbMu.Lock()
	s.onError = fn
	s.cbMu.Unlock()
}

// Start spawns the recognizer. It refuses while a process is alive.
func (s *Supervisor) Start(opts StartOptions) error {
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	startedAt := s.now()
	args := s.args(opts, startedAt)
	proc, err := s.runner.Spawn(s.cfg.Command, args...)
	if err != nil {
		s.mu.Unlock()
		e := &Error{Kind: KindSpawn, Detail: s.cfg.Command, Err: err}
		s.surface(e)
		return e
	}

	r := &run{proc: proc, startedAt: startedAt, done: make(chan struct{})}
	s.cur = r
	s.mu.Unlock()

	s.log.Info("recognizer_started", map[string]interface{}{
		"pid":        proc.Pid(),
		"command":    s.cfg.Command,
		"transcript": opts.TranscriptPath,
		"audio":      opts.AudioPath,
	})

	logging.SafeGo(component, func() { s.supervise(r) })
	return nil
}

func (s *Supervisor) args(opts StartOptions, startedAt time.Time) []string {
	var args []string
	if s.cfg.Script != "" {
		args = append(args, s.cfg.Script)
	}
	args = append(args, "--output", opts.TranscriptPath)
	if s.cfg.Model != "" {
		args = append(args, "--model", s.cfg.Model)
	}
	if s.cfg.Language != "" {
		args = append(args, "--language", s.cfg.Language)
	}
	if s.cfg.RecordAudio && opts.AudioPath != "" {
		args = append(args, "--audio-output", opts.AudioPath)
	}
	epoch := float64(startedAt.UnixMilli()) / 1000
	args = append(args, "--session-start", strconv.FormatFloat(epoch, 'f', 3, 64))
	return args
}

// IsRunning reports whether a recognizer process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Ready reports whether the running recognizer has finished initializing.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.ready.Load()
}

// SessionStart returns the spawn time of the running recognizer.
// The time carries a monotonic reading.
func (s *Supervisor) SessionStart() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return time.Time{}, false
	}
	return s.cur.startedAt, true
}

// Stop ends the recognizer. A process with no pid yet is force-killed at
// once; any other is asked to terminate and force-killed after the stop
// timeout. Stop returns once the process is gone and all final text has been
// delivered, or after a bounded wait if the process cannot be reaped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}

	timeout := s.cfg.StopTimeout
	if !r.stopping.CompareAndSwap(false, true) {
		s.awaitExit(r, 2*timeout)
		return
	}

	if r.proc.Pid() == 0 {
		s.log.Info("recognizer_kill_initializing", nil)
		if err := r.proc.Kill(); err != nil {
			s.log.Warn("recognizer_kill_failed", nil, err)
		}
	} else {
		if !r.ready.Load() {
			s.log.Info("recognizer_terminate_initializing", map[string]interface{}{"pid": r.proc.Pid()})
		}
		if err := r.proc.Terminate(); err != nil {
			s.log.Warn("recognizer_terminate_failed", nil, err)
		}
		select {
		case <-r.done:
			return
		case <-time.After(timeout):
			s.log.Warn("recognizer_force_kill", map[string]interface{}{
				"pid":        r.proc.Pid(),
				"timeout_ms": timeout.Milliseconds(),
			}, nil)
			if err := r.proc.Kill(); err != nil {
				s.log.Warn("recognizer_kill_failed", nil, err)
			}
		}
	}

	s.awaitExit(r, timeout)
}

func (s *Supervisor) awaitExit(r *run, timeout time.Duration) {
	select {
	case <-r.done:
	case <-time.After(timeout):
		s.log.Warn("recognizer_stop_abandoned", map[string]interface{}{"pid": r.proc.Pid()}, nil)
		s.release(r)
	}
}

func (s *Supervisor) release(r *run) {
	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────────────────────
// Process supervision
// ─────────────────────────────────────────────────────────────────────────────

func (s *Supervisor) supervise(r *run) {
	live := newMailbox()
	finals := make(chan string, finalQueueSize)
	stopLive := make(chan struct{})

	var dispatch sync.WaitGroup
	dispatch.Add(2)
	go func() {
		defer dispatch.Done()
		s.dispatchLive(live, stopLive)
	}()
	go func() {
		defer dispatch.Done()
		s.dispatchFinal(finals)
	}()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer close(finals)
		s.readStdout(r, live, finals)
	}()
	go func() {
		defer readers.Done()
		s.readStderr(r)
	}()
	readers.Wait()

	status, err := r.proc.Wait()
	close(stopLive)
	dispatch.Wait()

	s.release(r)
	close(r.done)

	fields := map[string]interface{}{
		"pid":      r.proc.Pid(),
		"code":     status.Code,
		"signaled": status.Signaled,
		"stopping": r.stopping.Load(),
	}
	if err != nil {
		s.log.Warn("recognizer_wait_failed", fields, err)
	}
	if r.stopping.Load() || status.Normal() {
		s.log.Info("recognizer_exited", fields)
		return
	}
	if cause := r.lastCause(); cause != nil {
		s.surface(cause)
		return
	}
	s.surface(&Error{Kind: KindUnexpectedExit, Detail: fmt.Sprintf("exit code %d", status.Code)})
}

func (s *Supervisor) readStdout(r *run, live *mailbox, finals chan<- string) {
	out := r.proc.Stdout()
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		chunk := protocol.ParseLine(scanner.Text())
		switch chunk.Kind {
		case protocol.KindLive:
			live.put(chunk.Text)
		case protocol.KindFinal:
			if chunk.Text != "" {
				finals <- chunk.Text
			}
		case protocol.KindStatus:
			if chunk.Status == protocol.StatusReady {
				r.ready.Store(true)
			}
			s.log.Info("recognizer_status", map[string]interface{}{"status": string(chunk.Status)})
		default:
			// startup failures are printed to stdout before a non-zero exit
			if d := protocol.ClassifyStderr(chunk.Text); !d.Benign && d.Kind != protocol.ErrorNone {
				s.log.Warn("recognizer_reported_failure", map[string]interface{}{
					"kind": string(d.Kind),
					"line": d.Line,
				}, nil)
				r.setCause(&Error{Kind: kindFromProtocol(d.Kind), Detail: d.Line})
				continue
			}
			s.log.Debug("recognizer_output", map[string]interface{}{"line": chunk.Text})
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.Warn("recognizer_stdout_failed", nil, err)
		io.Copy(io.Discard, out)
	}
}

func (s *Supervisor) readStderr(r *run) {
	errOut := r.proc.Stderr()
	scanner := bufio.NewScanner(errOut)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var last string
	for scanner.Scan() {
		d := protocol.ClassifyStderr(scanner.Text())
		if d.Benign {
			if d.Line != "" {
				s.log.Debug("recognizer_stderr_suppressed", map[string]interface{}{"line": d.Line})
			}
			continue
		}
		if r.stopping.Load() {
			s.log.Warn("recognizer_stderr_during_stop", map[string]interface{}{"line": d.Line}, nil)
			continue
		}
		if d.Line == last {
			continue
		}
		last = d.Line
		s.surface(&Error{Kind: kindFromProtocol(d.Kind), Detail: d.Line})
	}

	if err := scanner.Err(); err != nil {
		s.log.Warn("recognizer_stderr_failed", nil, err)
		io.Copy(io.Discard, errOut)
	}
}

func (s *Supervisor) dispatchLive(live *mailbox, stop <-chan struct{}) {
	for {
		select {
		case <-live.signal:
			text, ok := live.take()
			if !ok {
				continue
			}
			s.cbMu.RLock()
			fn := s.onLive
			s.cbMu.RUnlock()
			if fn != nil {
				fn(text)
			}
		case <-stop:
			return
		}
	}
}

func (s *Supervisor) dispatchFinal(finals <-chan string) {
	for text := range finals {
		s.cbMu.RLock()
		fn := s.onFinal
		s.cbMu.RUnlock()
		if fn != nil {
			fn(text)
		}
		if s.notify != nil {
			s.notify.Notify(alerts.LevelInfo, component, "Transcript", text)
		}
	}
}

func (s *Supervisor) surface(e *Error) {
	s.log.Error("recognizer_error", map[string]interface{}{
		"kind":   string(e.Kind),
		"detail": e.Detail,
	}, e.Err)

	if s.notify != nil {
		level := alerts.LevelWarning
		if e.Fatal() {
			level = alerts.LevelError
		}
		s.notify.Send(level, component, "Speech recognition", e.UserMessage(), map[string]interface{}{
			"kind": string(e.Kind),
		})
	}

	s.cbMu.RLock()
	fn := s.onError
	s.cbMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}
