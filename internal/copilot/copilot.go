// Package copilot wires one live call: recognizer output feeds the search
// throttle and the session mirror, invocations land in the session and the
// transcript, and ending the call hands a snapshot to the post-session
// pipeline.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/recognizer"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/share"
	"github.com/joss/copilot/internal/throttle"
	"github.com/joss/copilot/internal/transcript"
)

var (
	// ErrNotInitialized is returned by New when a required collaborator is missing.
	ErrNotInitialized = errors.New("copilot not initialized")

	// ErrNoCall is returned when an operation needs a running call.
	ErrNoCall = errors.New("no call in progress")

	// ErrNoResult is returned when invoking a result slot that is empty.
	ErrNoResult = errors.New("no search result at that position")
)

const defaultRepublishDelay = 1500 * time.Millisecond

// Recognizer is the speech recognition supervisor.
type Recognizer interface {
	SetLiveTextCallback(fn func(string))
	SetFinalTextCallback(fn func(string))
	SetErrorCallback(fn func(*recognizer.Error))
	Start(opts recognizer.StartOptions) error
	Stop()
	IsRunning() bool
	SessionStart() (time.Time, bool)
}

// Knowledge resolves partners and answers live searches.
type Knowledge interface {
	Partner(ctx context.Context, id string) (knowledge.Item, error)
	Search(ctx context.Context, query, partnerID string, opts knowledge.SearchOptions) ([]knowledge.Result, error)
}

// Pipeline runs the post-session stages.
type Pipeline interface {
	Run(ctx context.Context, snap session.Snapshot) *pipeline.Result
}

// ResultSink is the rendering layer for live search results. Calls may come
// from any goroutine.
type ResultSink interface {
	Show(results []knowledge.Result)
	Clear()
}

// TranscriptView echoes recognized speech to the user.
type TranscriptView interface {
	Live(text string)
	Final(text string)
}

// Deps are the collaborators, constructed once at startup.
type Deps struct {
	Config     *config.Config
	Recognizer Recognizer
	Knowledge  Knowledge
	Pipeline   Pipeline
	Sink       ResultSink

	// Transcript is optional
	Transcript TranscriptView

	// Scheduler drives the throttle cooldown and the re-publish delay; nil
	// uses real timers
	Scheduler throttle.Scheduler
}

// Copilot runs at most one call at a time.
type Copilot struct {
	cfg      *config.Config
	rec      Recognizer
	know     Knowledge
	pipeline Pipeline
	sink     ResultSink
	sched    throttle.Scheduler
	machine  *session.Machine
	buffer   *throttle.Buffer
	log      *logging.Logger

	mu        sync.Mutex
	recorder  *transcript.Recorder
	partner   session.Partner
	results   []knowledge.Result
	searchGen uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

// New validates deps and wires the recognizer callbacks.
func New(deps Deps) (*Copilot, error) {
	var missing []string
	if deps.Config == nil {
		missing = append(missing, "config")
	}
	if deps.Recognizer == nil {
		missing = append(missing, "recognizer")
	}
	if deps.Knowledge == nil {
		missing = append(missing, "knowledge")
	}
	if deps.Sink == nil {
		missing = append(missing, "result sink")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotInitialized, strings.Join(missing, ", "))
	}

	sched := deps.Scheduler
	if sched == nil {
		sched = throttle.RealScheduler{}
	}

	c := &Copilot{
		cfg:      deps.Config,
		rec:      deps.Recognizer,
		know:     deps.Knowledge,
		pipeline: deps.Pipeline,
		sink:     deps.Sink,
		sched:    sched,
		machine:  session.NewMachine(deps.Recognizer),
		log:      logging.New("copilot"),
	}
	c.buffer = throttle.New(throttle.Config{
		Capacity: deps.Config.Search.Capacity,
		Cooldown: deps.Config.Search.Cooldown,
		MinChars: deps.Config.Search.MinChars,
	}, c, sched)

	live, final := c.buffer.OnLiveText, c.machine.AppendFinal
	if v := deps.Transcript; v != nil {
		live = func(text string) {
			c.buffer.OnLiveText(text)
			v.Live(text)
		}
		final = func(text string) {
			c.machine.AppendFinal(text)
			v.Final(text)
		}
	}
	c.rec.SetLiveTextCallback(live)
	c.rec.SetFinalTextCallback(final)
	c.rec.SetErrorCallback(c.onRecognizerError)
	return c, nil
}

// Machine exposes the session state machine for mode switching.
func (c *Copilot) Machine() *session.Machine {
	return c.machine
}

// Active reports whether a call is running.
func (c *Copilot) Active() bool {
	return c.machine.Active()
}

// Begin starts a call with the partner: a fresh transcript, a cleared search
// buffer and a running recognizer.
func (c *Copilot) Begin(ctx context.Context, partnerID string) (session.Snapshot, error) {
	item, err := c.know.Partner(ctx, partnerID)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("resolve partner: %w", err)
	}
	partner := session.Partner{ID: item.ID, Name: item.Name, Email: item.Email}

	now := time.Now()
	base := fmt.Sprintf("%s-%s", now.Format("2006-01-02-150405"), share.Slug(partner.Name))
	opts := session.BeginOptions{
		TranscriptPath: filepath.Join(c.cfg.Paths.Transcripts, base+".md"),
		Recording:      c.cfg.Recognizer.RecordAudio,
	}
	if opts.Recording {
		opts.AudioPath = filepath.Join(c.cfg.Paths.Recordings, base+".wav")
	}

	snap, err := c.machine.Begin(partner, opts)
	if err != nil {
		return session.Snapshot{}, err
	}
	log := c.log.WithSession(snap.ID)

	header := transcript.Header{Partner: partner.Name, PartnerID: partner.ID, Started: now}
	if err := transcript.Create(opts.TranscriptPath, header); err != nil {
		c.machine.End()
		return session.Snapshot{}, err
	}

	callCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.recorder = transcript.NewRecorder(opts.TranscriptPath)
	c.partner = partner
	c.results = nil
	c.searchGen++
	c.ctx, c.cancel = callCtx, cancel
	c.mu.Unlock()

	c.buffer.Reset()
	c.sink.Clear()

	if err := c.rec.Start(recognizer.StartOptions{
		TranscriptPath: opts.TranscriptPath,
		AudioPath:      opts.AudioPath,
	}); err != nil {
		c.teardown()
		c.machine.End()
		log.Error("call_start_failed", nil, err)
		return session.Snapshot{}, err
	}

	log.Info("call_started", map[string]interface{}{
		"partner":    partner.ID,
		"transcript": opts.TranscriptPath,
		"audio":      opts.AudioPath,
	})
	return snap, nil
}

// Results returns the displayed search results.
func (c *Copilot) Results() []knowledge.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]knowledge.Result(nil), c.results...)
}

// Invoke surfaces the n-th (1-based) displayed result.
func (c *Copilot) Invoke(n int) (session.Invocation, error) {
	c.mu.Lock()
	if n < 1 || n > len(c.results) {
		c.mu.Unlock()
		return session.Invocation{}, fmt.Errorf("%w: %d", ErrNoResult, n)
	}
	r := c.results[n-1]
	c.mu.Unlock()
	return c.InvokeItem(session.Item{ID: r.ID, Name: r.Name})
}

// InvokeItem records an invocation in the session and embeds its marker in
// the transcript. A failed marker write is logged by the recorder.
func (c *Copilot) InvokeItem(item session.Item) (session.Invocation, error) {
	inv, ok := c.machine.RecordInvocation(item)
	if !ok {
		return session.Invocation{}, ErrNoCall
	}

	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		rec.RecordInvocation(inv.Elapsed, inv.ItemName)
	}
	return inv, nil
}

// End stops the recognizer, captures the transcript, ends the session and
// runs the post-session pipeline on the snapshot.
func (c *Copilot) End(ctx context.Context) (*pipeline.Result, error) {
	if !c.machine.Active() {
		return nil, ErrNoCall
	}

	// stop first so every final chunk is flushed before the read
	c.rec.Stop()

	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()

	var content string
	if rec != nil {
		text, err := rec.Read()
		if err != nil {
			c.log.Warn("transcript_read_failed", map[string]interface{}{"path": rec.Path()}, err)
		}
		content = text
	}

	snap, ok := c.machine.End()
	if !ok {
		return nil, ErrNoCall
	}
	snap.Transcript = transcript.Merge(content, snap.Finals)

	c.teardown()
	c.buffer.Reset()
	c.sink.Clear()

	c.log.WithSession(snap.ID).Info("call_ended", map[string]interface{}{
		"invocations": len(snap.Invocations),
		"chars":       len(snap.Transcript),
	})

	if c.pipeline == nil {
		return nil, nil
	}
	return c.pipeline.Run(ctx, snap), nil
}

func (c *Copilot) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = nil, nil
	c.recorder = nil
	c.results = nil
	c.searchGen++
}

// Close stops a running recognizer without running the pipeline.
func (c *Copilot) Close() {
	if c.rec.IsRunning() {
		c.rec.Stop()
	}
	c.teardown()
}

func (c *Copilot) onRecognizerError(e *recognizer.Error) {
	if e.Fatal() {
		c.log.Error("recognizer_fatal", map[string]interface{}{"kind": string(e.Kind)}, e)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// throttle.Sink
// ─────────────────────────────────────────────────────────────────────────────

// Search runs the knowledge search off the recognizer goroutine. Only the
// newest search may publish its results.
func (c *Copilot) Search(query string) {
	c.mu.Lock()
	ctx := c.ctx
	c.searchGen++
	gen := c.searchGen
	partner := c.partner.ID
	c.mu.Unlock()
	if ctx == nil {
		return
	}

	logging.SafeGo("copilot.search", func() {
		start := time.Now()
		results, err := c.know.Search(ctx, query, partner, knowledge.SearchOptions{
			MaxResults:      c.cfg.Search.MaxResults,
			IncludeSnippets: c.cfg.Search.IncludeSnippets,
		})
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("search_failed", map[string]interface{}{"chars": len(query)}, err)
			}
			return
		}
		if !c.publish(gen, results) {
			return
		}
		c.log.TimedEvent("search_published", start, map[string]interface{}{"results": len(results)})

		if c.buffer.ClaimRepublish() {
			delay := c.cfg.Search.RepublishDelay
			if delay <= 0 {
				delay = defaultRepublishDelay
			}
			c.sched.AfterFunc(delay, func() {
				if c.publish(gen, results) {
					c.log.Debug("search_republished", map[string]interface{}{"results": len(results)})
				}
			})
		}
	})
}

func (c *Copilot) publish(gen uint64, results []knowledge.Result) bool {
	c.mu.Lock()
	if gen != c.searchGen {
		c.mu.Unlock()
		return false
	}
	c.results = append([]knowledge.Result(nil), results...)
	c.mu.Unlock()

	c.sink.Show(results)
	return true
}

// Clear drops displayed results and invalidates in-flight searches.
func (c *Copilot) Clear() {
	c.mu.Lock()
	c.results = nil
	c.searchGen++
	c.mu.Unlock()
	c.sink.Clear()
}
