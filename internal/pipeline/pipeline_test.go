package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/archive"
	"github.com/joss/copilot/internal/audio"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/mail"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/share"
	"github.com/joss/copilot/pkg/llm"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeGenerator struct {
	content string
	err     error
	calls   int
	got     []llm.Message
}

func (f *fakeGenerator) Complete(_ context.Context, msgs []llm.Message, _ llm.Complexity, _ llm.Options) (*llm.Response, error) {
	f.calls++
	f.got = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content, Provider: "openai", Model: "gpt-4o-mini"}, nil
}

type fakeItems struct {
	mu         sync.Mutex
	items      map[string]knowledge.Item
	existing   []string
	connectErr map[string]error
	connected  []string
}

func (f *fakeItems) Get(_ context.Context, id string) (knowledge.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return knowledge.Item{}, knowledge.ErrNotFound
	}
	return it, nil
}

func (f *fakeItems) Connections(context.Context, string) ([]string, error) {
	return f.existing, nil
}

func (f *fakeItems) Connect(_ context.Context, _, b string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectErr[b]; err != nil {
		return err
	}
	f.connected = append(f.connected, b)
	return nil
}

type fakeSharer struct {
	fail map[string]bool
}

func (f *fakeSharer) Share(_ context.Context, item knowledge.Item) (share.Reference, error) {
	if f.fail[item.ID] {
		return share.Reference{}, errors.New("rad: no seed reachable")
	}
	return share.Reference{ItemID: item.ID, Name: item.Name, RID: "rad:z" + item.ID}, nil
}

type fakeClipper struct {
	reqs []audio.Request
}

func (f *fakeClipper) Create(_ context.Context, req audio.Request) audio.Clip {
	f.reqs = append(f.reqs, req)
	return audio.Clip{ItemID: req.ItemID, Start: req.Start, End: req.End, Status: audio.StatusPending}
}

type fakeComposer struct {
	drafts []mail.Draft
}

func (f *fakeComposer) Deliver(_ context.Context, d mail.Draft) (mail.Delivery, error) {
	f.drafts = append(f.drafts, d)
	return mail.Delivery{Method: mail.MethodOutbox, Path: "/outbox/" + d.ID + ".eml"}, nil
}

type fakeArchive struct {
	runs []archive.Run
}

func (f *fakeArchive) SaveRun(_ context.Context, run archive.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

type fixture struct {
	gen      *fakeGenerator
	items    *fakeItems
	sharer   *fakeSharer
	clipper  *fakeClipper
	composer *fakeComposer
	archive  *fakeArchive
	alerts   *alerts.Manager
	pipeline *Pipeline
	docs     string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		gen: &fakeGenerator{content: wellFormed},
		items: &fakeItems{items: map[string]knowledge.Item{
			"soil":  {ID: "soil", Name: "Soil Health", RepoPath: "/vault/soil"},
			"water": {ID: "water", Name: "Irrigation Plan", RepoPath: "/vault/water"},
			"seeds": {ID: "seeds", Name: "Seed Bank", RepoPath: "/vault/seeds"},
		}},
		sharer:   &fakeSharer{fail: map[string]bool{}},
		clipper:  &fakeClipper{},
		composer: &fakeComposer{},
		archive:  &fakeArchive{},
		alerts:   alerts.NewManager(""),
		docs:     t.TempDir(),
	}
	f.pipeline = f.build()
	return f
}

func (f *fixture) build() *Pipeline {
	return New(Deps{
		Generator: f.gen,
		Items:     f.items,
		Sharer:    f.sharer,
		Clipper:   f.clipper,
		Composer:  f.composer,
		Archive:   f.archive,
		Notifier:  f.alerts,
	}, Options{
		CloneBaseURL: "interbrain://clone",
		DocumentsDir: f.docs,
	})
}

func snapshot() session.Snapshot {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return session.Snapshot{
		ID:      "s1",
		Partner: session.Partner{ID: "ada", Name: "Ada Lovelace", Email: "ada@example.com"},
		Start:   start,
		End:     start.Add(4 * time.Minute),
		Invocations: []session.Invocation{
			{ID: "i1", Elapsed: 42, ItemID: "soil", ItemName: "Soil Health"},
			{ID: "i2", Elapsed: 125, ItemID: "water", ItemName: "Irrigation Plan"},
			{ID: "i3", Elapsed: 200, ItemID: "seeds", ItemName: "Seed Bank"},
			{ID: "i4", Elapsed: 210, ItemID: "soil", ItemName: "Soil Health"},
		},
		AudioPath:  "/rec/s1.wav",
		Transcript: "# Conversation with Ada\n\n---\n\n[00:40] clay soil\n[0:42] 🔮 Invoked: Soil Health\n",
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestRunFullPipeline(t *testing.T) {
	f := newFixture(t)
	res := f.pipeline.Run(context.Background(), snapshot())

	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{StageSnapshot, StageSummary, StageShare, StageDraft, StageClips, StageRelationships, StageDelivery, StageArchive}, res.Ran)
	assert.Equal(t, "openai:gpt-4o-mini", res.Provider)
	assert.True(t, strings.HasPrefix(res.Summary, "We walked through soil health"))
	assert.Equal(t, 1, f.gen.calls)
	assert.Contains(t, f.gen.got[1].Content, "[0:42] Soil Health (id: soil)")
	assert.Contains(t, f.gen.got[1].Content, "clay soil")

	require.Len(t, res.References, 3)
	assert.Equal(t, "soil", res.References[0].ItemID)
	assert.Equal(t, "seeds", res.References[2].ItemID)

	require.NotNil(t, res.Draft)
	assert.Equal(t, "ada@example.com", res.Draft.To)
	assert.Contains(t, res.Draft.Body, "Hi Ada,")
	assert.Contains(t, res.Draft.Body, "- Soil Health: rad:zsoil")
	assert.Equal(t, "interbrain://clone?ids=rad%3Azsoil%2Crad%3Azwater%2Crad%3Azseeds", res.Draft.CloneLink)
	assert.Equal(t, filepath.Join(f.docs, "s1.md"), res.Draft.AttachmentPath)
	doc, err := os.ReadFile(res.Draft.AttachmentPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "## Highlights")

	require.Len(t, f.clipper.reqs, 2)
	assert.Equal(t, audio.Request{SessionID: "s1", ItemID: "soil", ItemName: "Soil Health", Start: 42, End: 75, Source: "/rec/s1.wav"}, f.clipper.reqs[0])
	assert.Len(t, res.Clips, 2)

	assert.ElementsMatch(t, []string{"soil", "water", "seeds"}, f.items.connected)
	require.Len(t, f.composer.drafts, 1)
	assert.Equal(t, mail.MethodOutbox, res.Delivery.Method)

	require.Len(t, f.archive.runs, 1)
	assert.Equal(t, "s1", f.archive.runs[0].Snapshot.ID)
	assert.Len(t, f.archive.runs[0].Clips, 2)

	recent := f.alerts.GetRecent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, alerts.LevelInfo, recent[0].Level)
}

func TestRunOneShareFails(t *testing.T) {
	f := newFixture(t)
	f.sharer.fail["water"] = true

	res := f.pipeline.Run(context.Background(), snapshot())

	// three distinct items, one failed share
	require.Len(t, res.References, 2)
	assert.NotContains(t, res.Draft.Body, "Irrigation Plan")
	assert.Contains(t, res.ShareFailures, "water")
	assert.False(t, res.Failed(StageShare))

	assert.Contains(t, res.Ran, StageDraft)
	assert.Contains(t, res.Ran, StageClips)
	assert.Contains(t, res.Ran, StageRelationships)
	assert.NotNil(t, res.Draft)
	assert.Len(t, f.clipper.reqs, 2)
	assert.Len(t, f.items.connected, 3)
	assert.NotEmpty(t, res.Draft.CloneLink)
}

func TestRunSingleShareHasNoCloneLink(t *testing.T) {
	f := newFixture(t)
	f.sharer.fail["water"] = true
	f.sharer.fail["seeds"] = true

	res := f.pipeline.Run(context.Background(), snapshot())
	require.Len(t, res.References, 1)
	assert.Empty(t, res.Draft.CloneLink)
	assert.NotContains(t, res.Draft.Body, "Clone everything")
}

func TestRunAllSharesFail(t *testing.T) {
	f := newFixture(t)
	f.sharer.fail = map[string]bool{"soil": true, "water": true, "seeds": true}

	res := f.pipeline.Run(context.Background(), snapshot())
	assert.True(t, res.Failed(StageShare))
	assert.Empty(t, res.References)
	require.NotNil(t, res.Draft)
	assert.Len(t, f.composer.drafts, 1)
	assert.Equal(t, alerts.LevelWarning, f.alerts.GetRecent(1)[0].Level)
}

func TestRunBasicModeWithoutGenerator(t *testing.T) {
	f := newFixture(t)
	f.gen = nil
	p := New(Deps{Items: f.items, Sharer: f.sharer, Clipper: f.clipper, Composer: f.composer}, Options{})

	res := p.Run(context.Background(), snapshot())
	assert.Empty(t, res.Errors)
	assert.Equal(t, ProviderBasic, res.Provider)
	assert.Equal(t, "Conversation with Ada Lovelace on Mar 1, 2026 (4:00). We talked about Soil Health, Irrigation Plan, Seed Bank.", res.Summary)
	assert.Empty(t, res.Suggestions)
	assert.Empty(t, f.clipper.reqs)
	assert.Empty(t, res.Draft.AttachmentPath)
}

func TestRunGeneratorFailureStillDrafts(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("429 rate limited")

	res := f.pipeline.Run(context.Background(), snapshot())
	assert.True(t, res.Failed(StageSummary))
	assert.Equal(t, ProviderBasic, res.Provider)
	assert.NotEmpty(t, res.Summary)
	assert.NotNil(t, res.Draft)
	assert.Len(t, res.References, 3)
	assert.Contains(t, f.archive.runs[0].Errors, StageSummary)
}

func TestRunUnparsableClipsKeepSummary(t *testing.T) {
	f := newFixture(t)
	f.gen.content = "Great chat.\n\n## Clips\nCLIP: soil\nSTART: whenever\nEND: later\n"

	res := f.pipeline.Run(context.Background(), snapshot())
	assert.Equal(t, "Great chat.", res.Summary)
	assert.Empty(t, res.Suggestions)
	assert.Empty(t, f.clipper.reqs)
	assert.False(t, res.Failed(StageClips))
}

func TestRunClipForUnknownItemSkipped(t *testing.T) {
	f := newFixture(t)
	f.gen.content = "Recap.\n\nCLIP: ghost\nSTART: 0:01\nEND: 0:05\n\nCLIP: water\nSTART: 0:10\nEND: 0:20\n"

	res := f.pipeline.Run(context.Background(), snapshot())
	require.Len(t, f.clipper.reqs, 1)
	assert.Equal(t, "water", f.clipper.reqs[0].ItemID)
	assert.Equal(t, "Irrigation Plan", f.clipper.reqs[0].ItemName)
	assert.Len(t, res.Suggestions, 2)
}

func TestRunEdgesSkipExistingAndContinueOnFailure(t *testing.T) {
	f := newFixture(t)
	f.items.existing = []string{"soil"}
	f.items.connectErr = map[string]error{"water": errors.New("graph timeout")}

	res := f.pipeline.Run(context.Background(), snapshot())
	assert.Equal(t, []string{"seeds"}, f.items.connected)
	assert.Equal(t, []string{"seeds"}, res.NewEdges)
	assert.True(t, res.Failed(StageRelationships))
	assert.Contains(t, res.Ran, StageDelivery)
	assert.Len(t, f.composer.drafts, 1)
}

type panickingClipper struct{}

func (panickingClipper) Create(context.Context, audio.Request) audio.Clip {
	panic("ffmpeg exploded")
}

func TestRunRecoversStagePanic(t *testing.T) {
	f := newFixture(t)
	p := New(Deps{
		Generator: f.gen,
		Items:     f.items,
		Sharer:    f.sharer,
		Clipper:   panickingClipper{},
		Composer:  f.composer,
		Notifier:  f.alerts,
	}, Options{})

	res := p.Run(context.Background(), snapshot())
	require.True(t, res.Failed(StageClips))
	assert.Contains(t, res.Errors[StageClips].Error(), "panic in pipeline.clips")
	assert.Len(t, f.items.connected, 3)
	assert.Len(t, f.composer.drafts, 1)

	var critical bool
	for _, a := range f.alerts.GetRecent(10) {
		if a.Level == alerts.LevelCritical {
			critical = true
		}
	}
	assert.True(t, critical)
}

func TestCaptureSnapshotFallsBackToMirror(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.md")
	require.NoError(t, os.WriteFile(path, []byte("# Conversation\n\n---\n\nhello\n[0:02] 🔮 Invoked: Soil\n"), 0644))

	p := New(Deps{}, Options{})

	snap := snapshot()
	snap.Transcript = ""
	snap.TranscriptPath = path
	snap.Finals = []string{"[0:01] hello", "[0:03] and more words than the file has"}
	res := p.Run(context.Background(), snap)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "# Conversation\n\n---\n\n[0:01] hello\n[0:02] 🔮 Invoked: Soil\n[0:03] and more words than the file has\n", res.Snapshot.Transcript)

	snap.Finals = nil
	res = p.Run(context.Background(), snap)
	assert.Contains(t, res.Snapshot.Transcript, "hello")

	snap.TranscriptPath = filepath.Join(dir, "missing.md")
	res = p.Run(context.Background(), snap)
	assert.True(t, res.Failed(StageSnapshot))
	assert.Contains(t, res.Ran, StageDraft)
}

func TestRunDoesNotAliasSnapshot(t *testing.T) {
	f := newFixture(t)
	snap := snapshot()
	res := f.pipeline.Run(context.Background(), snap)

	res.Snapshot.Invocations[0].ItemName = "changed"
	assert.Equal(t, "Soil Health", snap.Invocations[0].ItemName)
}
