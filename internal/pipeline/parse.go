package pipeline

import (
	"regexp"
	"strings"

	"github.com/joss/copilot/internal/transcript"
)

// ClipSuggestion is one candidate clip proposed by the text generator.
// Start and End keep the textual timestamps; Offsets converts them.
type ClipSuggestion struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Offsets converts the textual timestamps to seconds.
func (c ClipSuggestion) Offsets() (start, end float64, err error) {
	if start, err = transcript.ParseTimestamp(c.Start); err != nil {
		return 0, 0, err
	}
	if end, err = transcript.ParseTimestamp(c.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

var (
	clipsHeading = regexp.MustCompile(`(?im)^\s*#{1,6}\s*clips?\b.*$`)
	clipStart    = regexp.MustCompile(`(?i)^[\s>*\-]*\**clip\**\s*:`)
	fieldLine    = regexp.MustCompile(`^[\s>*\-]*\**([A-Za-z][A-Za-z _-]*?)\**\s*:\s*(.*)$`)
	summaryHead  = regexp.MustCompile(`(?im)^\s*#{1,6}\s*summary\s*$`)
)

// ParseResponse splits generator output into the prose summary and the clip
// suggestions. The summary is everything before the clips section (or the
// first CLIP line); it is returned even when no clip parses.
func ParseResponse(text string) (summary string, clips []ClipSuggestion) {
	cut := len(text)
	if loc := clipsHeading.FindStringIndex(text); loc != nil {
		cut = loc[0]
	} else if i := firstClipLine(text); i >= 0 {
		cut = i
	}

	summary = summaryHead.ReplaceAllString(text[:cut], "")
	return strings.TrimSpace(summary), ParseClips(text[cut:])
}

func firstClipLine(text string) int {
	off := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if clipStart.MatchString(line) {
			return off
		}
		off += len(line)
	}
	return -1
}

// ParseClips extracts clip blocks of the form
//
//	CLIP: <item-id>
//	NAME: <display name>
//	START: [m:ss]
//	END: [m:ss]
//	EXCERPT: <quoted text>
//
// Field names are case-insensitive and may carry list or bold decoration.
// A block missing its identifier, with an unparsable timestamp, or with an
// end not after its start is dropped.
func ParseClips(text string) []ClipSuggestion {
	var (
		out     []ClipSuggestion
		cur     *ClipSuggestion
		lastKey string
	)

	flush := func() {
		if cur != nil && valid(*cur) {
			cur.Excerpt = strings.TrimSpace(cur.Excerpt)
			out = append(out, *cur)
		}
		cur = nil
		lastKey = ""
	}

	for _, line := range strings.Split(text, "\n") {
		if clipStart.MatchString(line) {
			flush()
			cur = &ClipSuggestion{}
		}
		if cur == nil {
			continue
		}

		m := fieldLine.FindStringSubmatch(line)
		if m == nil {
			// continuation of a multi-line excerpt
			if lastKey == "excerpt" && strings.TrimSpace(line) != "" {
				cur.Excerpt += " " + strings.TrimSpace(line)
			}
			continue
		}

		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := cleanValue(m[2])
		switch key {
		case "clip", "id", "item", "item id", "item_id":
			if cur.ItemID == "" {
				cur.ItemID = val
			}
		case "name", "title":
			cur.ItemName = val
		case "start":
			cur.Start = val
		case "end":
			cur.End = val
		case "excerpt", "quote":
			cur.Excerpt = strings.Trim(val, `"“”`)
		default:
			if lastKey == "excerpt" {
				cur.Excerpt += " " + strings.TrimSpace(line)
			}
			continue
		}
		lastKey = key
	}
	flush()
	return out
}

func valid(c ClipSuggestion) bool {
	if c.ItemID == "" {
		return false
	}
	start, end, err := c.Offsets()
	return err == nil && end > start
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*`")
	return strings.TrimSpace(s)
}
