// Package session tracks one conversation at a time: its partner, start time,
// recognizer output mirror and the ordered list of invocations.
package session

import (
	"time"
)

// Mode is the interactive mode the host is in. Modes are mutually exclusive.
type Mode string

const (
	ModeNone     Mode = ""
	ModeCopilot  Mode = "copilot"
	ModeEditing  Mode = "editing"
	ModeCreating Mode = "creating"
)

// Partner is the person on the other side of the conversation.
type Partner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Item is a reference to a knowledge item.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Invocation is one moment a knowledge item was surfaced during the call.
// Invocations are immutable and kept in append order.
type Invocation struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Elapsed   float64   `json:"elapsed_seconds"`
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name"`
}

// Session is the mutable per-call state owned by the Machine.
type Session struct {
	ID             string
	Partner        Partner
	Start          time.Time
	End            time.Time
	Invocations    []Invocation
	Recording      bool
	TranscriptPath string
	AudioPath      string

	// finals mirrors the recognizer's final text in arrival order
	finals []string
}

// Snapshot is a detached copy of a session handed to the post-session
// pipeline. Nothing in it aliases Machine state.
type Snapshot struct {
	ID             string       `json:"id"`
	Partner        Partner      `json:"partner"`
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	Invocations    []Invocation `json:"invocations"`
	Recording      bool         `json:"recording"`
	TranscriptPath string       `json:"transcript_path"`
	AudioPath      string       `json:"audio_path"`
	Finals         []string     `json:"finals,omitempty"`

	// Transcript is the transcript content captured at session end
	Transcript string `json:"transcript,omitempty"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:             s.ID,
		Partner:        s.Partner,
		Start:          s.Start,
		End:            s.End,
		Invocations:    append([]Invocation(nil), s.Invocations...),
		Recording:      s.Recording,
		TranscriptPath: s.TranscriptPath,
		AudioPath:      s.AudioPath,
		Finals:         append([]string(nil), s.finals...),
	}
}

// SharedItems returns the distinct invoked items in first-invocation order.
// These are the items shared with the partner during the call.
func (s Snapshot) SharedItems() []Item {
	seen := make(map[string]bool)
	var out []Item
	for _, inv := range s.Invocations {
		if inv.ItemID == "" || seen[inv.ItemID] {
			continue
		}
		seen[inv.ItemID] = true
		out = append(out, Item{ID: inv.ItemID, Name: inv.ItemName})
	}
	return out
}

// Duration returns the call length, zero while the session has not ended.
func (s Snapshot) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}
