// Package audio cuts per-item clips ("perspectives") out of a call
// recording with ffmpeg.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
	"github.com/joss/copilot/internal/logging"
)

// Status is the state of a clip artifact.
type Status string

const (
	// StatusCreated means the clip file was written.
	StatusCreated Status = "created"

	// StatusPending means the source recording is not available yet; the
	// clip records the path it will have once cut.
	StatusPending Status = "pending"

	// StatusFailed means ffmpeg ran and failed.
	StatusFailed Status = "failed"
)

// recordingExts are the formats a recording may be converted to after a call.
var recordingExts = []string{"wav", "mp3", "m4a", "webm"}

// Request describes one clip to cut.
type Request struct {
	SessionID string
	ItemID    string
	ItemName  string
	Start     float64
	End       float64
	Source    string
}

// Clip is a clip artifact record.
type Clip struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Trimmer creates clip artifacts.
type Trimmer struct {
	ffmpeg   string
	clipsDir string
	runner   exec.Runner
	log      *logging.Logger
}

// NewTrimmer creates a trimmer writing under clipsDir.
func NewTrimmer(cfg config.AudioConfig, clipsDir string, runner exec.Runner) *Trimmer {
	ffmpeg := cfg.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Trimmer{
		ffmpeg:   ffmpeg,
		clipsDir: clipsDir,
		runner:   runner,
		log:      logging.New("audio"),
	}
}

// Create cuts one clip. It never fails outright: a missing recording yields
// a pending clip at its expected path, an ffmpeg failure a failed clip.
func (t *Trimmer) Create(ctx context.Context, req Request) Clip {
	start, end := req.Start, req.End
	if start < 0 {
		start = 0
	}

	clip := Clip{
		ID:        ulid.Make().String(),
		SessionID: req.SessionID,
		ItemID:    req.ItemID,
		ItemName:  req.ItemName,
		Start:     start,
		End:       end,
		Source:    req.Source,
		CreatedAt: time.Now().UTC(),
	}

	if end <= start {
		clip.Status = StatusFailed
		clip.Error = fmt.Sprintf("empty range %.1f-%.1f", start, end)
		return clip
	}

	src, found := ResolveSource(req.Source)
	ext := "wav"
	if found {
		ext = strings.TrimPrefix(filepath.Ext(src), ".")
		clip.Source = src
	}
	clip.Path = ClipPath(t.clipsDir, req.SessionID, req.ItemID, start, end, ext)

	if !found {
		clip.Status = StatusPending
		t.log.Info("clip_pending", map[string]interface{}{"item": req.ItemID, "path": clip.Path})
		return clip
	}

	if err := os.MkdirAll(filepath.Dir(clip.Path), 0755); err != nil {
		clip.Status = StatusFailed
		clip.Error = err.Error()
		return clip
	}

	began := time.Now()
	out, err := t.runner.Run(ctx, t.ffmpeg,
		"-y",
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", src,
		"-c", "copy",
		clip.Path,
	)
	if err != nil {
		clip.Status = StatusFailed
		clip.Error = lastLine(string(out), err)
		t.log.Warn("clip_failed", map[string]interface{}{"item": req.ItemID, "path": clip.Path}, err)
		return clip
	}

	clip.Status = StatusCreated
	t.log.TimedEvent("clip_created", began, map[string]interface{}{"item": req.ItemID, "path": clip.Path})
	return clip
}

// ResolveSource finds the recording: the exact path, or a converted sibling
// with the same base name.
func ResolveSource(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pattern := escapeGlob(base) + ".{" + strings.Join(recordingExts, ",") + "}"

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}

	rank := func(name string) int {
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		for i, e := range recordingExts {
			if e == ext {
				return i
			}
		}
		return len(recordingExts)
	}
	sort.Slice(matches, func(i, j int) bool { return rank(matches[i]) < rank(matches[j]) })
	return filepath.Join(dir, matches[0]), true
}

// ClipPath is <dir>/<session>/<item>-<start>-<end>.<ext>, offsets in whole seconds.
func ClipPath(dir, sessionID, itemID string, start, end float64, ext string) string {
	name := fmt.Sprintf("%s-%d-%d.%s", itemID, int(start), int(end), ext)
	return filepath.Join(dir, sessionID, name)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lastLine(out string, err error) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return err.Error()
}
