package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/knowledge"
)

// Bridge forwards copilot callbacks into a running program. It is created
// before the program so it can be handed to the copilot at construction;
// anything sent before Attach or after Detach is dropped.
type Bridge struct {
	mu      sync.RWMutex
	program *tea.Program
}

// NewBridge creates a detached bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach starts forwarding to p.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

// Detach stops forwarding.
func (b *Bridge) Detach() {
	b.mu.Lock()
	b.program = nil
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

// Show implements copilot.ResultSink.
func (b *Bridge) Show(results []knowledge.Result) {
	b.send(resultsMsg(append([]knowledge.Result(nil), results...)))
}

// Clear implements copilot.ResultSink.
func (b *Bridge) Clear() {
	b.send(resultsMsg(nil))
}

// Live implements copilot.TranscriptView.
func (b *Bridge) Live(text string) {
	b.send(liveMsg(text))
}

// Final implements copilot.TranscriptView.
func (b *Bridge) Final(text string) {
	b.send(finalMsg(text))
}

// Alert is an alerts.Subscriber. Recognizer info alerts echo finals and
// are skipped.
func (b *Bridge) Alert(a alerts.Alert) {
	if a.Component == "recognizer" && a.Level == alerts.LevelInfo {
		return
	}
	b.send(alertMsg(a))
}
