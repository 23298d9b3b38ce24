package alerts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	require.NotNil(t, m)
	assert.Equal(t, dir, m.Dir())
}

func TestSendAlert(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	alert := m.Send(LevelError, "recognizer", "Transcription error", "mic gone", map[string]interface{}{
		"kind": "permission_denied",
	})
	require.NotNil(t, alert)
	assert.Equal(t, LevelError, alert.Level)
	assert.Equal(t, "recognizer", alert.Component)
	assert.True(t, strings.HasPrefix(alert.ID, "alert-"))

	_, err := os.Stat(filepath.Join(dir, alert.ID+".json"))
	assert.NoError(t, err, "alert file was not created")

	data, err := os.ReadFile(filepath.Join(dir, "active.json"))
	require.NoError(t, err)
	var summary struct {
		Count     int  `json:"count"`
		HasErrors bool `json:"has_errors"`
	}
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 1, summary.Count)
	assert.True(t, summary.HasErrors)
}

func TestMemoryOnlyManager(t *testing.T) {
	m := NewManager("")
	m.Send(LevelInfo, "test", "Title", "Message", nil)
	assert.Len(t, m.GetActive(), 1)
	assert.Empty(t, m.Dir())
}

func TestResolveAlert(t *testing.T) {
	m := NewManager(t.TempDir())

	alert := m.Send(LevelWarning, "test", "Test", "Test message", nil)
	assert.Len(t, m.GetActive(), 1)

	m.Resolve(alert.ID)
	assert.Empty(t, m.GetActive())
}

func TestGetRecent(t *testing.T) {
	m := NewManager(t.TempDir())

	for i := 0; i < 5; i++ {
		m.Send(LevelInfo, "test", "Test", "Message", nil)
	}

	assert.Len(t, m.GetRecent(3), 3)
	assert.Len(t, m.GetRecent(10), 5)
}

func TestSubscribe(t *testing.T) {
	m := NewManager("")

	var mu sync.Mutex
	var got []string
	cancel := m.Subscribe(func(a Alert) {
		mu.Lock()
		got = append(got, a.Title)
		mu.Unlock()
	})

	m.Send(LevelInfo, "test", "first", "", nil)
	cancel()
	m.Send(LevelInfo, "test", "second", "", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, got)
}

func TestNotifyIsTransient(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	var got []Alert
	defer m.Subscribe(func(a Alert) { got = append(got, a) })()

	a := m.Notify(LevelInfo, "recognizer", "Transcript", "[0:01] hello")
	assert.True(t, strings.HasPrefix(a.ID, "note-"))
	require.Len(t, got, 1)
	assert.Equal(t, "[0:01] hello", got[0].Message)

	assert.Empty(t, m.GetRecent(10))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	m.Send(LevelCritical, "pipeline", "Stage failed", "share stage crashed", map[string]interface{}{
		"exit_code": 137,
	})

	data, err := os.ReadFile(filepath.Join(dir, "notifications.md"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "# Notifications")
	assert.Contains(t, content, "Stage failed")
	assert.Contains(t, content, "pipeline")
	assert.Contains(t, content, "137")
}

func TestNoActiveAlerts(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	alert := m.Send(LevelInfo, "test", "Test", "Message", nil)
	m.Resolve(alert.ID)

	data, _ := os.ReadFile(filepath.Join(dir, "notifications.md"))
	assert.Contains(t, string(data), "No active notifications")
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	NewManager(dir).Send(LevelWarning, "test", "persisted", "", nil)

	m := NewManager(dir)
	active := m.GetActive()
	require.Len(t, active, 1)
	assert.Equal(t, "persisted", active[0].Title)
}

func TestLogRotation(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.maxAlertFiles = 5

	for i := 0; i < 10; i++ {
		m.Send(LevelInfo, "test", "Test", "Message", nil)
	}
	m.rotateOldFiles()

	entries, _ := os.ReadDir(dir)
	var count int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "alert-") && filepath.Ext(e.Name()) == ".json" {
			count++
		}
	}
	assert.LessOrEqual(t, count, m.maxAlertFiles)
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "❌", Icon(LevelError))
	assert.Equal(t, "ℹ️", Icon(LevelInfo))
}
