// Package pipeline runs the post-call stages on a session snapshot: summary
// and clip suggestions, sharing, draft assembly, clip artifacts, relationship
// edges, delivery and archiving.
//
// Every stage runs behind panic recovery and records its own error. A failed
// stage never stops a later stage that does not consume its output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/archive"
	"github.com/joss/copilot/internal/audio"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/mail"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/share"
	"github.com/joss/copilot/internal/transcript"
	"github.com/joss/copilot/pkg/llm"
)

// Stage names, in run order.
const (
	StageSnapshot      = "snapshot"
	StageSummary       = "summary"
	StageShare         = "share"
	StageDraft         = "draft"
	StageClips         = "clips"
	StageRelationships = "relationships"
	StageDelivery      = "delivery"
	StageArchive       = "archive"
)

// ProviderBasic marks a summary produced without a text generator.
const ProviderBasic = "basic"

var errNoDraft = errors.New("no draft to deliver")

// Items is the slice of the knowledge store the pipeline needs.
type Items interface {
	Get(ctx context.Context, id string) (knowledge.Item, error)
	Connections(ctx context.Context, id string) ([]string, error)
	Connect(ctx context.Context, a, b string) error
}

// Clipper creates clip artifacts.
type Clipper interface {
	Create(ctx context.Context, req audio.Request) audio.Clip
}

// Archiver stores finished runs.
type Archiver interface {
	SaveRun(ctx context.Context, run archive.Run) error
}

// Notifier is the user-visible notification surface.
type Notifier interface {
	Send(level alerts.Level, component, title, message string, ctx map[string]interface{}) *alerts.Alert
}

// Deps are the collaborators. A nil Generator selects basic mode; other nil
// collaborators skip their stage.
type Deps struct {
	Generator llm.Generator
	Items     Items
	Sharer    share.Sharer
	Clipper   Clipper
	Composer  mail.Composer
	Archive   Archiver
	Notifier  Notifier
}

// Options tune a run.
type Options struct {
	CloneBaseURL string
	DocumentsDir string
	Concurrency  int
	AI           llm.Options
}

// Pipeline is constructed once and run once per finished session.
type Pipeline struct {
	deps Deps
	opts Options
	log  *logging.Logger
}

// New creates a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{deps: deps, opts: opts, log: logging.New("pipeline")}
}

// Result is what a run produced. Errors holds one entry per failed stage.
type Result struct {
	Snapshot      session.Snapshot
	Summary       string
	Provider      string
	Usage         llm.Usage
	Suggestions   []ClipSuggestion
	References    []share.Reference
	ShareFailures map[string]error
	Draft         *mail.Draft
	Clips         []audio.Clip
	NewEdges      []string
	Delivery      mail.Delivery
	Errors        map[string]error
	Ran           []string
}

// Failed reports whether a stage recorded an error.
func (r *Result) Failed(stage string) bool {
	_, ok := r.Errors[stage]
	return ok
}

// Run converts the result into its archive record.
func (r *Result) Run() archive.Run {
	run := archive.Run{
		Snapshot: r.Snapshot,
		Summary:  r.Summary,
		Provider: r.Provider,
		Clips:    r.Clips,
		Draft:    r.Draft,
		Delivery: r.Delivery,
	}
	if len(r.Errors) > 0 {
		run.Errors = make(map[string]string, len(r.Errors))
		for stage, err := range r.Errors {
			run.Errors[stage] = err.Error()
		}
	}
	return run
}

// Run executes every stage on snap. It never returns an error: stage
// failures are collected in Result.Errors.
func (p *Pipeline) Run(ctx context.Context, snap session.Snapshot) *Result {
	log := p.log.WithSession(snap.ID)
	began := time.Now()
	res := &Result{
		Snapshot:      snap,
		ShareFailures: make(map[string]error),
		Errors:        make(map[string]error),
	}

	p.stage(log, res, StageSnapshot, func() error { return p.captureSnapshot(res) })
	p.stage(log, res, StageSummary, func() error { return p.summarize(ctx, res) })
	p.stage(log, res, StageShare, func() error { return p.shareItems(ctx, log, res) })
	p.stage(log, res, StageDraft, func() error { return p.assemble(res) })
	p.stage(log, res, StageClips, func() error { return p.createClips(ctx, log, res) })
	p.stage(log, res, StageRelationships, func() error { return p.persistEdges(ctx, log, res) })
	p.stage(log, res, StageDelivery, func() error { return p.deliver(ctx, res) })
	p.stage(log, res, StageArchive, func() error { return p.archive(ctx, res) })

	log.TimedEvent("pipeline_finished", began, map[string]interface{}{
		"refs":   len(res.References),
		"clips":  len(res.Clips),
		"edges":  len(res.NewEdges),
		"failed": len(res.Errors),
	})
	p.report(res)
	return res
}

func (p *Pipeline) stage(log *logging.Logger, res *Result, name string, fn func() error) {
	rh := logging.NewRecoveryHandler("pipeline." + name)
	if p.deps.Notifier != nil {
		rh.OnPanic = func(rec interface{}, _ string) {
			p.deps.Notifier.Send(alerts.LevelCritical, "pipeline", "Stage crashed",
				fmt.Sprintf("%s: %v", name, rec), nil)
		}
	}

	start := time.Now()
	err := rh.WrapError(fn)
	res.Ran = append(res.Ran, name)
	if err != nil {
		res.Errors[name] = err
		log.Warn("stage_failed", map[string]interface{}{"stage": name}, err)
		return
	}
	log.TimedEvent("stage_done", start, map[string]interface{}{"stage": name})
}

// captureSnapshot makes sure the run has transcript text. The snapshot normally
// carries the content read at session end; a replay re-reads the file, then
// falls back to the mirrored final chunks.
func (p *Pipeline) captureSnapshot(res *Result) error {
	snap := &res.Snapshot
	snap.Invocations = append([]session.Invocation(nil), snap.Invocations...)
	if snap.Transcript != "" {
		return nil
	}

	var readErr error
	if snap.TranscriptPath != "" {
		data, err := os.ReadFile(snap.TranscriptPath)
		if err == nil {
			snap.Transcript = string(data)
		}
		readErr = err
	}
	snap.Transcript = transcript.Merge(snap.Transcript, snap.Finals)
	if snap.Transcript == "" && readErr != nil {
		return fmt.Errorf("read transcript: %w", readErr)
	}
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, res *Result) error {
	if p.deps.Generator == nil {
		res.Summary = basicSummary(res.Snapshot)
		res.Provider = ProviderBasic
		return nil
	}

	resp, err := p.deps.Generator.Complete(ctx, buildMessages(res.Snapshot, res.Snapshot.Transcript), llm.ComplexityComplex, p.opts.AI)
	if err != nil {
		// the draft still gets a recap
		res.Summary = basicSummary(res.Snapshot)
		res.Provider = ProviderBasic
		return fmt.Errorf("generate summary: %w", err)
	}

	res.Summary, res.Suggestions = ParseResponse(resp.Content)
	res.Provider = resp.Provider + ":" + resp.Model
	res.Usage = resp.Usage
	if res.Summary == "" {
		res.Summary = basicSummary(res.Snapshot)
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, it session.Item) (knowledge.Item, error) {
	if p.deps.Items == nil {
		return knowledge.Item{ID: it.ID, Name: it.Name}, nil
	}
	item, err := p.deps.Items.Get(ctx, it.ID)
	if err != nil {
		return knowledge.Item{}, err
	}
	if item.Name == "" {
		item.Name = it.Name
	}
	return item, nil
}

// shareItems obtains a reference per shared item. Items that fail are left
// out; the stage only errors when every share failed.
func (p *Pipeline) shareItems(ctx context.Context, log *logging.Logger, res *Result) error {
	items := res.Snapshot.SharedItems()
	if len(items) == 0 || p.deps.Sharer == nil {
		return nil
	}

	refs := make([]*share.Reference, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, it := range items {
		g.Go(func() error {
			err := logging.NewRecoveryHandler("pipeline.share").WrapError(func() error {
				item, err := p.resolve(gctx, it)
				if err != nil {
					return fmt.Errorf("resolve item: %w", err)
				}
				ref, err := p.deps.Sharer.Share(gctx, item)
				if err != nil {
					return err
				}
				if ref.Name == "" {
					ref.Name = item.Name
				}
				refs[i] = &ref
				return nil
			})
			if err != nil {
				log.Warn("share_failed", map[string]interface{}{"item": it.ID}, err)
				mu.Lock()
				res.ShareFailures[it.ID] = err
				mu.Unlock()
			}
			// per-item failures never cancel the siblings
			return nil
		})
	}
	g.Wait()

	for _, ref := range refs {
		if ref != nil {
			res.References = append(res.References, *ref)
		}
	}
	if len(res.References) == 0 {
		return fmt.Errorf("all %d shares failed", len(items))
	}
	return nil
}

func (p *Pipeline) assemble(res *Result) error {
	d := assembleDraft(res.Snapshot, res.Summary, res.References, p.opts.CloneBaseURL)
	res.Draft = &d

	if p.opts.DocumentsDir == "" {
		return nil
	}
	doc := renderDocument(res.Snapshot, res.Summary, res.References, res.Suggestions, d.CloneLink)
	path, err := writeDocument(p.opts.DocumentsDir, res.Snapshot.ID, doc)
	if err != nil {
		return err
	}
	d.AttachmentPath = path
	res.Draft = &d
	return nil
}

// createClips cuts one artifact per parsed suggestion whose item resolves.
func (p *Pipeline) createClips(ctx context.Context, log *logging.Logger, res *Result) error {
	if p.deps.Clipper == nil || len(res.Suggestions) == 0 {
		return nil
	}

	names := make(map[string]string)
	for _, it := range res.Snapshot.SharedItems() {
		names[it.ID] = it.Name
	}

	var errs []error
	for _, s := range res.Suggestions {
		name, ok := names[s.ItemID]
		if !ok && p.deps.Items != nil {
			if item, err := p.deps.Items.Get(ctx, s.ItemID); err == nil {
				name, ok = item.Name, true
			}
		}
		if !ok {
			log.Warn("clip_item_unresolved", map[string]interface{}{"item": s.ItemID}, nil)
			continue
		}

		start, end, err := s.Offsets()
		if err != nil {
			log.Warn("clip_timestamp_invalid", map[string]interface{}{"item": s.ItemID}, err)
			continue
		}

		clip := p.deps.Clipper.Create(ctx, audio.Request{
			SessionID: res.Snapshot.ID,
			ItemID:    s.ItemID,
			ItemName:  name,
			Start:     start,
			End:       end,
			Source:    res.Snapshot.AudioPath,
		})
		res.Clips = append(res.Clips, clip)
		if clip.Status == audio.StatusFailed {
			errs = append(errs, fmt.Errorf("clip %s: %s", s.ItemID, clip.Error))
		}
	}
	return errors.Join(errs...)
}

// persistEdges connects the partner to every shared item it was not already
// connected to, one edge at a time.
func (p *Pipeline) persistEdges(ctx context.Context, log *logging.Logger, res *Result) error {
	partner := res.Snapshot.Partner.ID
	items := res.Snapshot.SharedItems()
	if p.deps.Items == nil || partner == "" || len(items) == 0 {
		return nil
	}

	existing, err := p.deps.Items.Connections(ctx, partner)
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	var errs []error
	for _, it := range items {
		if known[it.ID] || it.ID == partner {
			continue
		}
		if err := p.deps.Items.Connect(ctx, partner, it.ID); err != nil {
			log.Warn("edge_failed", map[string]interface{}{"item": it.ID}, err)
			errs = append(errs, fmt.Errorf("connect %s: %w", it.ID, err))
			continue
		}
		res.NewEdges = append(res.NewEdges, it.ID)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) deliver(ctx context.Context, res *Result) error {
	if p.deps.Composer == nil {
		return nil
	}
	if res.Draft == nil {
		return errNoDraft
	}
	d, err := p.deps.Composer.Deliver(ctx, *res.Draft)
	if err != nil {
		return err
	}
	res.Delivery = d
	return nil
}

func (p *Pipeline) archive(ctx context.Context, res *Result) error {
	if p.deps.Archive == nil {
		return nil
	}
	return p.deps.Archive.SaveRun(ctx, res.Run())
}

func (p *Pipeline) report(res *Result) {
	if p.deps.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("%d shared, %d clips", len(res.References), len(res.Clips))
	if res.Delivery.Path != "" {
		msg += ", draft at " + res.Delivery.Path
	}
	level := alerts.LevelInfo
	if len(res.Errors) > 0 {
		level = alerts.LevelWarning
		failed := make([]string, 0, len(res.Errors))
		for _, name := range res.Ran {
			if res.Failed(name) {
				failed = append(failed, name)
			}
		}
		msg += "; failed: " + strings.Join(failed, ", ")
	}
	p.deps.Notifier.Send(level, "pipeline", "Call wrap-up ready", msg, map[string]interface{}{"session": res.Snapshot.ID})
}
