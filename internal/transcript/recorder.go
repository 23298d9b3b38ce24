package transcript

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joss/copilot/internal/logging"
)

// Recorder embeds invocation markers into a live transcript.
//
// Writes are a read-modify-write of the whole file, serialized within this
// process only. The recognizer appends to the same file from its own process,
// so a marker can still be lost if it races a final-text flush.
type Recorder struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
}

// NewRecorder creates a recorder for the transcript at path.
func NewRecorder(path string) *Recorder {
	return &Recorder{
		path: path,
		log:  logging.New("transcript"),
	}
}

// Path returns the transcript location.
func (r *Recorder) Path() string {
	return r.path
}

// RecordInvocation appends a marker line for an invoked item. Failures are
// logged and swallowed; a missing marker never interrupts the call.
func (r *Recorder) RecordInvocation(elapsed float64, name string) {
	if err := r.appendLine(FormatMarker(elapsed, name)); err != nil {
		r.log.Warn("marker_write_failed", map[string]interface{}{
			"path": r.path,
			"item": name,
		}, err)
		return
	}
	r.log.Debug("marker_written", map[string]interface{}{
		"item":    name,
		"elapsed": elapsed,
	})
}

// Read returns the current transcript content.
func (r *Recorder) Read() (string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func (r *Recorder) appendLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n\n"

	if err := os.WriteFile(r.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
