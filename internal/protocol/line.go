// Package protocol parses the recognizer's line-oriented stdout protocol and
// classifies its stderr output.
//
// Stdout lines:
//
//	SEARCH:<text>               live text, the full utterance so far
//	TRANSCRIPT:[mm:ss] <text>   final text, never revised
//	READY                       model loaded, listening
//	END                         recognizer shut down cleanly
package protocol

import (
	"strings"
)

// Kind tags a parsed stdout line.
type Kind int

const (
	KindUnknown Kind = iota
	KindLive
	KindFinal
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindFinal:
		return "final"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Status is a lifecycle milestone reported by the recognizer.
type Status string

const (
	StatusReady Status = "READY"
	StatusEnd   Status = "END"
)

const (
	livePrefix  = "SEARCH:"
	finalPrefix = "TRANSCRIPT:"
)

// Chunk is one parsed stdout line: Live(text) | Final(text) | Status(kind).
type Chunk struct {
	Kind   Kind
	Text   string
	Status Status
}

// Live builds a live chunk.
func Live(text string) Chunk { return Chunk{Kind: KindLive, Text: text} }

// Final builds a final chunk.
func Final(text string) Chunk { return Chunk{Kind: KindFinal, Text: text} }

// StatusChunk builds a status chunk.
func StatusChunk(s Status) Chunk { return Chunk{Kind: KindStatus, Status: s} }

// ParseLine classifies a single stdout line. Lines that match no prefix
// return KindUnknown with the raw text.
func ParseLine(line string) Chunk {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, livePrefix):
		return Live(strings.TrimSpace(strings.TrimPrefix(line, livePrefix)))
	case strings.HasPrefix(line, finalPrefix):
		return Final(strings.TrimSpace(strings.TrimPrefix(line, finalPrefix)))
	}

	switch Status(strings.TrimSpace(line)) {
	case StatusReady:
		return StatusChunk(StatusReady)
	case StatusEnd:
		return StatusChunk(StatusEnd)
	}

	return Chunk{Kind: KindUnknown, Text: line}
}

// FormatLine renders a chunk back to its wire form.
func FormatLine(c Chunk) string {
	switch c.Kind {
	case KindLive:
		return livePrefix + c.Text
	case KindFinal:
		return finalPrefix + c.Text
	case KindStatus:
		return string(c.Status)
	default:
		return c.Text
	}
}
