// Package tui provides the live call view using Bubble Tea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/render"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/transcript"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

const (
	maxNotices   = 3
	maxResults   = 9
	headerHeight = 4
	footerHeight = 4
)

// ErrInterrupted is returned by Run when the view is closed while the
// wrap-up is still running.
var ErrInterrupted = errors.New("call view closed before the wrap-up finished")

// Call is the running call the view drives.
type Call interface {
	Invoke(n int) (session.Invocation, error)
	End(ctx context.Context) (*pipeline.Result, error)
}

// Message types
type resultsMsg []knowledge.Result
type liveMsg string
type finalMsg string
type alertMsg alerts.Alert
type invokedMsg struct {
	inv session.Invocation
	err error
}
type wrapupMsg struct {
	res *pipeline.Result
	err error
}
type tickMsg time.Time

// Model is the live call view.
type Model struct {
	call    Call
	partner string
	started time.Time

	results  []knowledge.Result
	live     string
	finals   []string
	invoked  []session.Invocation
	notices  []alerts.Alert
	ending   bool
	result   *pipeline.Result
	err      error
	ready    bool
	quitting bool

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
}

// New creates the view for a call with partner.
func New(call Call, partner string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		call:    call,
		partner: partner,
		started: time.Now(),
		spinner: s,
	}
}

// Init starts the clock.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "ctrl+c", "q":
			if !m.ending {
				m.ending = true
				return m, tea.Batch(m.spinner.Tick, endCmd(m.call))
			}
			if key == "ctrl+c" {
				m.quitting = true
				return m, tea.Quit
			}
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			if !m.ending {
				return m, invokeCmd(m.call, int(key[0]-'0'))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(max(msg.Width-4, 10), max(msg.Height-headerHeight-footerHeight-m.resultsHeight(), 3))
		m.viewport.SetContent(m.transcript())
		m.viewport.GotoBottom()
		m.ready = true

	case resultsMsg:
		m.results = msg
		if len(m.results) > maxResults {
			m.results = m.results[:maxResults]
		}

	case liveMsg:
		m.live = string(msg)
		m.refreshTranscript()

	case finalMsg:
		m.finals = append(m.finals, string(msg))
		m.live = ""
		m.refreshTranscript()

	case alertMsg:
		m.notices = append(m.notices, alerts.Alert(msg))
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}

	case invokedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.invoked = append(m.invoked, msg.inv)
			m.refreshTranscript()
		}

	case wrapupMsg:
		m.result = msg.res
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case tickMsg:
		if !m.ending {
			cmds = append(cmds, tickCmd())
		}

	case spinner.TickMsg:
		if m.ending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// Result returns the wrap-up once the call has ended.
func (m Model) Result() (*pipeline.Result, error) {
	return m.result, m.err
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) resultsHeight() int {
	return maxResults + 3
}

// transcript lists finals, then invocation markers, then pending live text.
func (m Model) transcript() string {
	var b strings.Builder
	for _, line := range m.finals {
		b.WriteString(line + "\n")
	}
	for _, inv := range m.invoked {
		b.WriteString(activeStyle.Render(transcript.FormatMarker(inv.Elapsed, inv.ItemName)) + "\n")
	}
	if m.live != "" {
		b.WriteString(infoStyle.Render(m.live) + "\n")
	}
	return b.String()
}

// View renders the call
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Starting call...", m.spinner.View())
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("📞 Call with "+m.partner) + "\n")
	elapsed := time.Since(m.started).Round(time.Second)
	b.WriteString(statusBarStyle.Render(fmt.Sprintf("%s │ %d invoked │ %d results",
		render.FormatDuration(elapsed), len(m.invoked), len(m.results))) + "\n\n")

	b.WriteString(boxStyle.Width(max(m.width-4, 10)).Render(m.viewResults()) + "\n")
	b.WriteString(boxStyle.Width(max(m.width-4, 10)).Render(m.viewport.View()) + "\n")

	for _, n := range m.notices {
		style := infoStyle
		if n.Level == alerts.LevelError || n.Level == alerts.LevelCritical {
			style = errorStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  %s %s: %s", alerts.Icon(n.Level), n.Title, n.Message)) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
	}

	if m.ending {
		b.WriteString(fmt.Sprintf("\n  %s Wrapping up the call...\n", m.spinner.View()))
	} else {
		b.WriteString(helpStyle.Render("  1-9: share result │ q: end call"))
	}
	return b.String()
}

func (m Model) viewResults() string {
	if len(m.results) == 0 {
		return infoStyle.Render("Listening...")
	}
	var b strings.Builder
	for i, r := range m.results {
		line := fmt.Sprintf("[%d] %s", i+1, render.Truncate(r.Name, 40))
		if r.Snippet != "" {
			line += "  " + infoStyle.Render(render.Truncate(r.Snippet, max(m.width-60, 20)))
		}
		b.WriteString(line)
		if i < len(m.results)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Commands

func invokeCmd(call Call, n int) tea.Cmd {
	return func() tea.Msg {
		inv, err := call.Invoke(n)
		return invokedMsg{inv: inv, err: err}
	}
}

func endCmd(call Call) tea.Cmd {
	return func() tea.Msg {
		res, err := call.End(context.Background())
		return wrapupMsg{res: res, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run shows the view until the call has ended and its wrap-up is ready, or
// until ctx is cancelled. The bridge forwards only while the program runs.
func Run(ctx context.Context, call Call, partner string, bridge *Bridge) (*pipeline.Result, error) {
	p := tea.NewProgram(New(call, partner), tea.WithAltScreen())
	bridge.Attach(p)
	defer bridge.Detach()

	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	res, err := final.(Model).Result()
	if res == nil && err == nil {
		return nil, ErrInterrupted
	}
	return res, err
}
