package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/session"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeCall struct {
	invoked []int
	ended   int
	res     *pipeline.Result
	err     error
}

func (f *fakeCall) Invoke(n int) (session.Invocation, error) {
	f.invoked = append(f.invoked, n)
	if n > 2 {
		return session.Invocation{}, errors.New("no search result at that position")
	}
	return session.Invocation{ID: "inv", Elapsed: 65, ItemID: "soil", ItemName: "Soil Health"}, nil
}

func (f *fakeCall) End(context.Context) (*pipeline.Result, error) {
	f.ended++
	return f.res, f.err
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(t *testing.T, call Call) Model {
	m, _ := update(t, New(call, "Ada"), tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestViewBeforeSize(t *testing.T) {
	assert.Contains(t, New(&fakeCall{}, "Ada").View(), "Starting call")
}

func TestResultsAndInvoke(t *testing.T) {
	call := &fakeCall{}
	m := sized(t, call)

	m, _ = update(t, m, resultsMsg{
		{Item: knowledge.Item{ID: "soil", Name: "Soil Health"}},
		{Item: knowledge.Item{ID: "water", Name: "Irrigation Plan"}, Snippet: "drip lines"},
	})
	view := m.View()
	assert.Contains(t, view, "[1] Soil Health")
	assert.Contains(t, view, "[2] Irrigation Plan")

	m, cmd := update(t, m, key("1"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, []int{1}, call.invoked)
	require.Len(t, m.invoked, 1)
	assert.Contains(t, m.transcript(), "Invoked: Soil Health")

	m, cmd = update(t, m, key("7"))
	m, _ = update(t, m, cmd())
	require.Error(t, m.err)
	assert.Contains(t, m.View(), "no search result")
}

func TestResultsCappedAtNine(t *testing.T) {
	m := sized(t, &fakeCall{})
	results := make([]knowledge.Result, 12)
	m, _ = update(t, m, resultsMsg(results))
	assert.Len(t, m.results, 9)

	m, _ = update(t, m, resultsMsg(nil))
	assert.Contains(t, m.View(), "Listening")
}

func TestTranscriptFollowsSpeech(t *testing.T) {
	m := sized(t, &fakeCall{})
	m, _ = update(t, m, liveMsg("we planted"))
	assert.Contains(t, m.transcript(), "we planted")

	m, _ = update(t, m, finalMsg("We planted the north field."))
	assert.Empty(t, m.live)
	assert.Equal(t, []string{"We planted the north field."}, m.finals)
}

func TestNoticesKeepLatest(t *testing.T) {
	m := sized(t, &fakeCall{})
	for _, title := range []string{"a", "b", "c", "d"} {
		m, _ = update(t, m, alertMsg(alerts.Alert{Level: alerts.LevelWarning, Title: title}))
	}
	require.Len(t, m.notices, maxNotices)
	assert.Equal(t, "b", m.notices[0].Title)
}

func TestEndRunsWrapupAndQuits(t *testing.T) {
	res := &pipeline.Result{Summary: "done"}
	call := &fakeCall{res: res}
	m := sized(t, call)

	m, cmd := update(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.True(t, m.ending)
	assert.Contains(t, m.View(), "Wrapping up")

	// keys are ignored while wrapping up
	m, _ = update(t, m, key("1"))
	assert.Empty(t, call.invoked)

	m, cmd = update(t, m, endCmd(call)())
	require.NotNil(t, cmd)
	got, err := m.Result()
	require.NoError(t, err)
	assert.Same(t, res, got)
	assert.Equal(t, 1, call.ended)
	assert.Empty(t, m.View())
}

func TestCtrlCWhileWrappingUpQuits(t *testing.T) {
	m := sized(t, &fakeCall{})
	m, _ = update(t, m, key("q"))
	m, cmd := update(t, m, key("ctrl+c"))
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)

	res, err := m.Result()
	assert.Nil(t, res)
	assert.NoError(t, err)
}

func TestBridgeDropsWhenDetached(t *testing.T) {
	b := NewBridge()
	assert.NotPanics(t, func() {
		b.Show([]knowledge.Result{{Item: knowledge.Item{ID: "x"}}})
		b.Clear()
		b.Live("hi")
		b.Final("hi.")
		b.Alert(alerts.Alert{Component: "pipeline", Level: alerts.LevelWarning})
	})
}
