package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/archive"
	"github.com/joss/copilot/internal/audio"
	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/copilot"
	"github.com/joss/copilot/internal/exec"
	"github.com/joss/copilot/internal/graph"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/mail"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/recognizer"
	"github.com/joss/copilot/internal/runtime"
	"github.com/joss/copilot/internal/share"
	"github.com/joss/copilot/pkg/llm"
)

const (
	graphRetries  = 3
	graphCacheTTL = 30 * time.Second
)

// services opens collaborators on demand for one command and closes them,
// last opened first, on shutdown.
type services struct {
	cfg      *config.Config
	runner   exec.Runner
	alerts   *alerts.Manager
	shutdown *runtime.ShutdownManager
	log      *logging.Logger

	items   *knowledge.Store
	archive *archive.Store
}

func newServices(cfg *config.Config, shutdownTimeout time.Duration) *services {
	return &services{
		cfg:      cfg,
		runner:   exec.NewOSRunner(),
		alerts:   alerts.NewManager(cfg.Paths.Alerts),
		shutdown: runtime.NewShutdownManager(shutdownTimeout),
		log:      logging.New("cli"),
	}
}

// connect opens the graph and wraps it in a read cache.
func (s *services) connect(ctx context.Context) (*knowledge.Store, error) {
	if s.items != nil {
		return s.items, nil
	}
	mg, err := graph.ConnectWithRetry(ctx, s.cfg.Graph, graphRetries)
	if err != nil {
		return nil, err
	}
	s.shutdown.RegisterCloser("graph", mg.Close)
	s.items = knowledge.NewStore(graph.NewCachedDriver(mg, graphCacheTTL))
	return s.items, nil
}

func (s *services) openArchive() (*archive.Store, error) {
	if s.archive != nil {
		return s.archive, nil
	}
	st, err := archive.Open(s.cfg.Paths.Data)
	if err != nil {
		return nil, err
	}
	s.shutdown.RegisterCloser("archive", st.Close)
	s.archive = st
	return st, nil
}

// pipeline assembles the post-session stages. items may be nil, which skips
// the stages that need the knowledge graph.
func (s *services) pipeline(items pipeline.Items) (*pipeline.Pipeline, error) {
	st, err := s.openArchive()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Items:    items,
		Sharer:   share.NewRadicle(s.cfg.Share, s.runner),
		Clipper:  audio.NewTrimmer(s.cfg.Audio, filepath.Join(s.cfg.Paths.Recordings, "clips"), s.runner),
		Composer: mail.New(s.cfg.Mail, s.cfg.Paths.Outbox),
		Archive:  st,
		Notifier: s.alerts,
	}
	if s.cfg.AI.Enabled() {
		gen, err := llm.NewOpenAI(s.cfg.AI)
		if err != nil {
			s.log.Warn("generator_unavailable", nil, err)
		} else {
			deps.Generator = gen
		}
	}

	return pipeline.New(deps, pipeline.Options{
		CloneBaseURL: s.cfg.Share.CloneBaseURL,
		DocumentsDir: s.cfg.Paths.Outbox,
		Concurrency:  s.cfg.Share.Concurrency,
		AI: llm.Options{
			MaxTokens:   s.cfg.AI.MaxTokens,
			Temperature: s.cfg.AI.Temperature,
		},
	}), nil
}

// copilot wires a call orchestrator around sink and view.
func (s *services) copilot(ctx context.Context, sink copilot.ResultSink, view copilot.TranscriptView) (*copilot.Copilot, error) {
	items, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: %w", err)
	}
	p, err := s.pipeline(items)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	cp, err := copilot.New(copilot.Deps{
		Config:     s.cfg,
		Recognizer: recognizer.New(s.cfg.Recognizer, s.runner, s.alerts),
		Knowledge:  items,
		Pipeline:   p,
		Sink:       sink,
		Transcript: view,
	})
	if err != nil {
		return nil, err
	}
	s.shutdown.RegisterCloser("recognizer", func() error {
		cp.Close()
		return nil
	})
	return cp, nil
}

// close runs the shutdown handlers and reports their joined error.
func (s *services) close() error {
	return s.shutdown.Shutdown()
}
