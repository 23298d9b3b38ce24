// Package alerts is the user-visible notification surface. Notifications are
// persisted to the alerts directory and fanned out to live subscribers (the
// call screen, the console renderer).
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level represents alert severity
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert is one notification.
type Alert struct {
	ID        string                 `json:"id"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Resolved  bool                   `json:"resolved"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Subscriber receives every alert after it is persisted.
type Subscriber func(Alert)

// Manager handles alert creation, persistence and fan-out.
type Manager struct {
	mu            sync.RWMutex
	alertDir      string
	alerts        []Alert
	maxAlerts     int
	maxAlertFiles int

	subMu  sync.RWMutex
	subs   map[int]Subscriber
	nextID int
}

// NewManager creates a manager persisting into alertDir. An empty dir keeps
// alerts in memory only.
func NewManager(alertDir string) *Manager {
	m := &Manager{
		alertDir:      alertDir,
		alerts:        make([]Alert, 0),
		maxAlerts:     100,
		maxAlertFiles: 100,
		subs:          make(map[int]Subscriber),
	}
	if alertDir != "" {
		os.MkdirAll(alertDir, 0755)
		m.loadFromDisk()
		m.rotateOldFiles()
	}
	return m
}

func (m *Manager) loadFromDisk() {
	data, err := os.ReadFile(filepath.Join(m.alertDir, "active.json"))
	if err != nil {
		return
	}

	var summary struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return
	}
	m.alerts = summary.Alerts
}

// Subscribe registers fn for future alerts and returns its cancel func.
func (m *Manager) Subscribe(fn Subscriber) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Send creates, persists and publishes a new alert.
func (m *Manager) Send(level Level, component, title, message string, ctx map[string]interface{}) *Alert {
	m.mu.Lock()
	alert := Alert{
		ID:        "alert-" + ulid.Make().String(),
		Level:     level,
		Component: component,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	}

	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.maxAlerts:]
	}

	if m.alertDir != "" {
		m.persistAlert(&alert)
		m.updateActiveAlerts()
	}
	m.mu.Unlock()

	m.publish(alert)
	return &alert
}

// Notify publishes a transient alert to subscribers only. It is neither kept
// in the recent list nor written to the alert directory.
func (m *Manager) Notify(level Level, component, title, message string) Alert {
	alert := Alert{
		ID:        "note-" + ulid.Make().String(),
		Level:     level,
		Component: component,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	m.publish(alert)
	return alert
}

func (m *Manager) publish(a Alert) {
	m.subMu.RLock()
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		fn(a)
	}
}

// Resolve marks an alert as resolved
func (m *Manager) Resolve(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Resolved = true
			break
		}
	}
	if m.alertDir != "" {
		m.updateActiveAlerts()
	}
}

// GetActive returns all unresolved alerts
func (m *Manager) GetActive() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	return active
}

// GetRecent returns the most recent alerts
func (m *Manager) GetRecent(count int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if count > len(m.alerts) {
		count = len(m.alerts)
	}
	out := make([]Alert, count)
	copy(out, m.alerts[len(m.alerts)-count:])
	return out
}

// Dir returns the alert directory path
func (m *Manager) Dir() string {
	return m.alertDir
}

func (m *Manager) persistAlert(alert *Alert) {
	filename := filepath.Join(m.alertDir, alert.ID+".json")
	data, _ := json.MarshalIndent(alert, "", "  ")
	os.WriteFile(filename, data, 0644)

	if len(m.alerts)%10 == 0 {
		m.rotateOldFiles()
	}
}

// rotateOldFiles removes old alert JSON files beyond maxAlertFiles
func (m *Manager) rotateOldFiles() {
	entries, err := os.ReadDir(m.alertDir)
	if err != nil {
		return
	}

	type alertFile struct {
		name    string
		modTime time.Time
	}
	var files []alertFile

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "alert-") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, alertFile{name: name, modTime: info.ModTime()})
	}

	if len(files) <= m.maxAlertFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files[:len(files)-m.maxAlertFiles] {
		os.Remove(filepath.Join(m.alertDir, f.name))
	}
}

// updateActiveAlerts writes active alerts to a summary file
func (m *Manager) updateActiveAlerts() {
	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}

	summary := struct {
		Count     int       `json:"count"`
		Updated   time.Time `json:"updated"`
		Alerts    []Alert   `json:"alerts"`
		HasErrors bool      `json:"has_errors"`
	}{
		Count:   len(active),
		Updated: time.Now().UTC(),
		Alerts:  active,
	}

	for _, a := range active {
		if a.Level == LevelError || a.Level == LevelCritical {
			summary.HasErrors = true
			break
		}
	}

	data, _ := json.MarshalIndent(summary, "", "  ")
	os.WriteFile(filepath.Join(m.alertDir, "active.json"), data, 0644)

	m.writeDigest(active)
}

// writeDigest writes a human-readable digest of active alerts.
func (m *Manager) writeDigest(alerts []Alert) {
	path := filepath.Join(m.alertDir, "notifications.md")
	if len(alerts) == 0 {
		os.WriteFile(path, []byte("# Notifications\n\nNo active notifications\n"), 0644)
		return
	}

	var b strings.Builder
	b.WriteString("# Notifications\n\n")
	fmt.Fprintf(&b, "%d active - updated %s\n\n", len(alerts), time.Now().UTC().Format(time.RFC3339))

	for _, a := range alerts {
		fmt.Fprintf(&b, "## %s [%s] %s\n\n", Icon(a.Level), a.Level, a.Title)
		fmt.Fprintf(&b, "Component: %s\n", a.Component)
		fmt.Fprintf(&b, "Time: %s\n\n", a.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "%s\n\n", a.Message)

		if len(a.Context) > 0 {
			ctx, _ := json.MarshalIndent(a.Context, "", "  ")
			b.WriteString("```json\n")
			b.Write(ctx)
			b.WriteString("\n```\n\n")
		}
		b.WriteString("---\n\n")
	}

	os.WriteFile(path, []byte(b.String()), 0644)
}

// Icon returns the glyph used for a level.
func Icon(l Level) string {
	switch l {
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "❌"
	case LevelCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}
