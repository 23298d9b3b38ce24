// Package selftest checks the external dependencies a call relies on.
package selftest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
)

// Component states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Overall report states.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// slowThreshold marks a reachable but sluggish dependency as degraded.
const slowThreshold = 250 * time.Millisecond

// ComponentStatus represents the health of a single dependency.
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency_ms,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the outcome of a doctor run.
type Report struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Names returns component names in display order.
func (r *Report) Names() []string {
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pinger is the slice of the graph driver the doctor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ComponentStatus
}

// Checker probes the dependencies described by the configuration.
type Checker struct {
	cfg      *config.Config
	runner   exec.Runner
	graph    Pinger
	graphErr error
	timeout  time.Duration
}

// NewChecker builds a checker. graph may be nil when the connection could
// not be made, in which case connErr explains why.
func NewChecker(cfg *config.Config, runner exec.Runner, graph Pinger, connErr error) *Checker {
	return &Checker{
		cfg:      cfg,
		runner:   runner,
		graph:    graph,
		graphErr: connErr,
		timeout:  5 * time.Second,
	}
}

// Checks lists the probes Run executes.
func (c *Checker) Checks() []Check {
	return []Check{
		{"recognizer", c.checkRecognizer},
		{"ffmpeg", c.checkFFmpeg},
		{"radicle", c.checkRadicle},
		{"graph", c.checkGraph},
		{"ai", c.checkAI},
		{"mail", c.checkMail},
		{"terminal", c.checkTerminal},
	}
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{
		Status:     Healthy,
		Components: make(map[string]ComponentStatus),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, check := range c.Checks() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			result := check.Run(ctx)
			if result.Latency == 0 {
				result.Latency = time.Since(start).Milliseconds()
			}

			mu.Lock()
			defer mu.Unlock()
			report.Components[check.Name] = result
			switch {
			case result.Status == StatusError:
				report.Status = Unhealthy
			case result.Status == StatusDegraded && report.Status == Healthy:
				report.Status = Degraded
			}
		}()
	}
	wg.Wait()

	return report
}

func (c *Checker) version(ctx context.Context, name string, args ...string) (string, error) {
	out, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

func (c *Checker) checkRecognizer(ctx context.Context) ComponentStatus {
	rc := c.cfg.Recognizer
	if rc.Script == "" {
		return ComponentStatus{Status: StatusError, Error: "recognizer script not configured"}
	}
	if _, err := os.Stat(rc.Script); err != nil {
		return ComponentStatus{Status: StatusError, Error: fmt.Sprintf("script %s: %v", rc.Script, err)}
	}
	ver, err := c.version(ctx, rc.Command, "--version")
	if err != nil {
		return ComponentStatus{Status: StatusError, Error: fmt.Sprintf("%s: %v", rc.Command, err)}
	}
	return ComponentStatus{Status: StatusOK, Detail: fmt.Sprintf("%s, model %s", ver, rc.Model)}
}

// A missing ffmpeg only leaves clips pending.
func (c *Checker) checkFFmpeg(ctx context.Context) ComponentStatus {
	ver, err := c.version(ctx, c.cfg.Audio.FFmpeg, "-version")
	if err != nil {
		return ComponentStatus{Status: StatusDegraded, Error: fmt.Sprintf("%s: %v", c.cfg.Audio.FFmpeg, err), Detail: "clips stay pending"}
	}
	return ComponentStatus{Status: StatusOK, Detail: ver}
}

func (c *Checker) checkRadicle(ctx context.Context) ComponentStatus {
	ver, err := c.version(ctx, c.cfg.Share.Command, "--version")
	if err != nil {
		return ComponentStatus{Status: StatusDegraded, Error: fmt.Sprintf("%s: %v", c.cfg.Share.Command, err), Detail: "items cannot be shared"}
	}
	return ComponentStatus{Status: StatusOK, Detail: ver}
}

func (c *Checker) checkGraph(ctx context.Context) ComponentStatus {
	if c.graph == nil {
		msg := "not connected"
		if c.graphErr != nil {
			msg = c.graphErr.Error()
		}
		return ComponentStatus{Status: StatusError, Error: msg}
	}

	start := time.Now()
	if err := c.graph.Ping(ctx); err != nil {
		return ComponentStatus{Status: StatusError, Latency: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	latency := time.Since(start)
	status := StatusOK
	if latency > slowThreshold {
		status = StatusDegraded
	}
	return ComponentStatus{Status: status, Latency: latency.Milliseconds(), Detail: c.cfg.Graph.URI}
}

func (c *Checker) checkAI(context.Context) ComponentStatus {
	if !c.cfg.AI.Enabled() {
		return ComponentStatus{Status: StatusDegraded, Detail: "no API key, summaries use basic mode"}
	}
	return ComponentStatus{Status: StatusOK, Detail: c.cfg.AI.ComplexModel}
}

func (c *Checker) checkMail(context.Context) ComponentStatus {
	if c.cfg.Mail.Host == "" {
		return ComponentStatus{Status: StatusOK, Detail: "drafts written to " + c.cfg.Paths.Outbox}
	}
	return ComponentStatus{Status: StatusOK, Detail: fmt.Sprintf("smtp %s:%d", c.cfg.Mail.Host, c.cfg.Mail.Port)}
}

func (c *Checker) checkTerminal(context.Context) ComponentStatus {
	if HasTTY() {
		return ComponentStatus{Status: StatusOK, Detail: "interactive call view"}
	}
	return ComponentStatus{Status: StatusOK, Detail: "plain mode"}
}
