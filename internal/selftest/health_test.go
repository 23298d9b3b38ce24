package selftest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
	"github.com/joss/copilot/internal/graph"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	script := filepath.Join(home, "transcribe.py")
	require.NoError(t, os.WriteFile(script, []byte("print('ok')\n"), 0o644))

	return &config.Config{
		Paths:      config.NewPaths(home),
		Recognizer: config.RecognizerConfig{Command: "python3", Script: script, Model: "small.en"},
		AI:         config.AIConfig{APIKey: "sk-test", ComplexModel: "gpt-4o"},
		Graph:      config.GraphConfig{URI: "bolt://localhost:7687"},
		Share:      config.ShareConfig{Command: "rad"},
		Audio:      config.AudioConfig{FFmpeg: "ffmpeg"},
	}
}

func healthyRunner() *exec.MockRunner {
	r := exec.NewMockRunner()
	r.AddResponse("python3", exec.MockResponse{Stdout: []byte("Python 3.12.1\n")})
	r.AddResponse("ffmpeg", exec.MockResponse{Stdout: []byte("ffmpeg version 6.1\nbuilt with gcc\n")})
	r.AddResponse("rad", exec.MockResponse{Stdout: []byte("rad 1.0.0\n")})
	return r
}

func TestRunAllHealthy(t *testing.T) {
	cfg := testConfig(t)
	report := NewChecker(cfg, healthyRunner(), graph.NewMockDriver(), nil).Run(context.Background())

	assert.Equal(t, Healthy, report.Status)
	assert.Len(t, report.Components, len(NewChecker(cfg, nil, nil, nil).Checks()))
	assert.Equal(t, "Python 3.12.1, model small.en", report.Components["recognizer"].Detail)
	assert.Equal(t, "ffmpeg version 6.1", report.Components["ffmpeg"].Detail)
	assert.Equal(t, "gpt-4o", report.Components["ai"].Detail)
	assert.NotEmpty(t, report.Timestamp)
}

func TestMissingToolsDegrade(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.APIKey = ""
	runner := healthyRunner()
	runner.AddResponse("ffmpeg", exec.MockResponse{Err: errors.New("executable file not found")})
	runner.AddResponse("rad", exec.MockResponse{Err: errors.New("executable file not found")})

	report := NewChecker(cfg, runner, graph.NewMockDriver(), nil).Run(context.Background())

	assert.Equal(t, Degraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["ffmpeg"].Status)
	assert.Equal(t, StatusDegraded, report.Components["radicle"].Status)
	assert.Equal(t, StatusDegraded, report.Components["ai"].Status)
	assert.Contains(t, report.Components["ffmpeg"].Error, "executable file not found")
}

func TestMissingScriptIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognizer.Script = filepath.Join(t.TempDir(), "missing.py")
	runner := healthyRunner()

	report := NewChecker(cfg, runner, graph.NewMockDriver(), nil).Run(context.Background())

	assert.Equal(t, Unhealthy, report.Status)
	assert.Equal(t, StatusError, report.Components["recognizer"].Status)
	assert.Empty(t, runner.CallsTo("python3"), "interpreter is not probed without a script")
}

func TestGraphFailures(t *testing.T) {
	cfg := testConfig(t)

	report := NewChecker(cfg, healthyRunner(), nil, errors.New("connection refused")).Run(context.Background())
	assert.Equal(t, Unhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Components["graph"].Error)

	db := graph.NewMockDriver()
	db.PingErr = errors.New("auth failed")
	report = NewChecker(cfg, healthyRunner(), db, nil).Run(context.Background())
	assert.Equal(t, StatusError, report.Components["graph"].Status)
	assert.Equal(t, "auth failed", report.Components["graph"].Error)
}

func TestMailDetail(t *testing.T) {
	cfg := testConfig(t)
	c := NewChecker(cfg, healthyRunner(), graph.NewMockDriver(), nil)
	assert.Contains(t, c.checkMail(context.Background()).Detail, cfg.Paths.Outbox)

	cfg.Mail = config.MailConfig{Host: "smtp.example.com", Port: 587}
	assert.Equal(t, "smtp smtp.example.com:587", c.checkMail(context.Background()).Detail)
}

func TestReportNamesSorted(t *testing.T) {
	r := &Report{Components: map[string]ComponentStatus{"graph": {}, "ai": {}, "ffmpeg": {}}}
	assert.Equal(t, []string{"ai", "ffmpeg", "graph"}, r.Names())
}
