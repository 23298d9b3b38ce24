// Package transcript owns the live transcript file format and the invocation
// marker writer.
//
// A transcript is a header block, a literal "---" separator line, then free
// text appended by the recognizer and marker lines of the form
//
//	[m:ss] 🔮 Invoked: <name>
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Separator ends the header block.
	Separator = "---"

	// MarkerGlyph tags invocation marker lines.
	MarkerGlyph = "🔮"
)

var (
	markerLine  = regexp.MustCompile(`^\s*\[[0-9:]+\]\s*` + MarkerGlyph)
	leadStamp   = regexp.MustCompile(`^\s*\[[0-9:.\- ]+\]\s*`)
	markerParse = regexp.MustCompile(`^\s*\[([0-9:]+)\]\s*` + MarkerGlyph + `\s*Invoked:\s*(.+?)\s*$`)
	finalStamp  = regexp.MustCompile(`^\s*\[([0-9:.]+)\]`)
)

// Header is the metadata block at the top of a transcript.
type Header struct {
	Partner   string
	PartnerID string
	Started   time.Time
}

// Format renders the header block including the separator line.
func (h Header) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation with %s\n\n", h.Partner)
	fmt.Fprintf(&b, "Started: %s\n", h.Started.Format(time.RFC3339))
	if h.PartnerID != "" {
		fmt.Fprintf(&b, "Partner-ID: %s\n", h.PartnerID)
	}
	b.WriteString("\n" + Separator + "\n\n")
	return b.String()
}

// Create writes a fresh transcript holding only the header. Parent
// directories are created as needed.
func Create(path string, h Header) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(h.Format()), 0644); err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	return nil
}

// Body returns the text after the header separator. Content without a
// separator is returned whole.
func Body(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == Separator {
			return strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return strings.TrimSpace(content)
}

// StripMarkers drops invocation marker lines and leading timestamps so only
// spoken text remains.
func StripMarkers(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if markerLine.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(leadStamp.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Marker is a parsed invocation marker line.
type Marker struct {
	Elapsed float64
	Name    string
}

// Markers extracts the invocation markers present in a transcript.
func Markers(content string) []Marker {
	var out []Marker
	for _, line := range strings.Split(content, "\n") {
		m := markerParse.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		secs, err := ParseTimestamp(m[1])
		if err != nil {
			continue
		}
		out = append(out, Marker{Elapsed: secs, Name: m[2]})
	}
	return out
}

// Merge returns content unless the final chunks mirrored by the host hold
// more speech than its body. Then the body is rebuilt from the finals with the
// body's invocation markers placed by elapsed time, and the header is kept.
func Merge(content string, finals []string) string {
	body := Body(content)
	mirror := strings.Join(finals, "\n")
	if len(StripMarkers(body)) >= len(StripMarkers(mirror)) {
		return content
	}

	markers := Markers(body)
	sort.SliceStable(markers, func(i, j int) bool { return markers[i].Elapsed < markers[j].Elapsed })

	lines := make([]string, 0, len(finals)+len(markers))
	for _, f := range finals {
		if m := finalStamp.FindStringSubmatch(f); m != nil {
			if at, err := ParseTimestamp(m[1]); err == nil {
				for len(markers) > 0 && markers[0].Elapsed <= at {
					lines = append(lines, FormatMarker(markers[0].Elapsed, markers[0].Name))
					markers = markers[1:]
				}
			}
		}
		lines = append(lines, f)
	}
	for _, m := range markers {
		lines = append(lines, FormatMarker(m.Elapsed, m.Name))
	}
	merged := strings.Join(lines, "\n")

	sep := "\n" + Separator + "\n"
	if i := strings.Index(content, sep); i >= 0 {
		return content[:i+len(sep)] + "\n" + merged + "\n"
	}
	return merged
}

// FormatMarker renders the marker line for an invocation.
func FormatMarker(elapsed float64, name string) string {
	return fmt.Sprintf("[%s] %s Invoked: %s", FormatElapsed(elapsed), MarkerGlyph, name)
}

// FormatElapsed renders seconds as m:ss, or h:mm:ss past one hour.
func FormatElapsed(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseTimestamp converts "m:ss", "mm:ss" or "h:mm:ss" (optionally in
// brackets, seconds may be fractional) to seconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		if p == "" {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}
