package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/transcript"
	"github.com/joss/copilot/pkg/llm"
)

const systemPrompt = `You summarize recorded conversations between the user and a partner.
During the call the user surfaced knowledge items; each invocation is listed with the elapsed
time at which it happened. Reply in exactly this layout:

## Summary
<two to four short paragraphs of plain prose addressed to the partner>

## Clips
CLIP: <item id>
NAME: <item name>
START: [m:ss]
END: [m:ss]
EXCERPT: <one sentence quoted from the transcript>

Write one CLIP block per invocation, covering the stretch of conversation about that item.
Use timestamps from the transcript. Omit a block when the transcript does not discuss the item.`

// maxPromptTranscript bounds the transcript sent to the generator, keeping
// the most recent text.
const maxPromptTranscript = 48000

func buildMessages(snap session.Snapshot, text string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Partner: %s\n", snap.Partner.Name)
	fmt.Fprintf(&b, "Started: %s\n", snap.Start.Format("2006-01-02 15:04"))
	if d := snap.Duration(); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", transcript.FormatElapsed(d.Seconds()))
	}

	b.WriteString("\nInvocations:\n")
	if len(snap.Invocations) == 0 {
		b.WriteString("(none)\n")
	}
	for _, inv := range snap.Invocations {
		fmt.Fprintf(&b, "- [%s] %s (id: %s)\n", transcript.FormatElapsed(inv.Elapsed), inv.ItemName, inv.ItemID)
	}

	body := transcript.Body(text)
	if len(body) > maxPromptTranscript {
		cut := len(body) - maxPromptTranscript
		for cut < len(body) && !utf8.RuneStart(body[cut]) {
			cut++
		}
		body = "…" + body[cut:]
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(body)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// basicSummary is used when no generator is configured.
func basicSummary(snap session.Snapshot) string {
	items := snap.SharedItems()
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %s on %s", snap.Partner.Name, snap.Start.Format("Jan 2, 2006"))
	if d := snap.Duration(); d > 0 {
		fmt.Fprintf(&b, " (%s)", transcript.FormatElapsed(d.Seconds()))
	}
	b.WriteString(".")
	if len(items) > 0 {
		names := make([]string, 0, len(items))
		for _, it := range items {
			names = append(names, it.Name)
		}
		fmt.Fprintf(&b, " We talked about %s.", strings.Join(names, ", "))
	}
	return b.String()
}
