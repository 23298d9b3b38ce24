package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/joss/copilot/internal/mail"
	"github.com/joss/copilot/internal/session"
	"github.com/joss/copilot/internal/share"
	"github.com/joss/copilot/internal/transcript"
)

// assembleDraft builds the outbound message. The aggregate clone link is
// only added when more than one item was shared.
func assembleDraft(snap session.Snapshot, summary string, refs []share.Reference, cloneBase string) mail.Draft {
	d := mail.Draft{
		ID:         ulid.Make().String(),
		To:         snap.Partner.Email,
		Subject:    fmt.Sprintf("Our conversation on %s", snap.Start.Format("Jan 2, 2006")),
		References: append([]share.Reference(nil), refs...),
	}
	if len(refs) > 1 && cloneBase != "" {
		d.CloneLink = share.CloneLink(cloneBase, refs)
	}

	var b strings.Builder
	name := firstName(snap.Partner.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("Thanks for the conversation. Here is a short recap.\n\n")
	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	if len(refs) > 0 {
		b.WriteString("Things I shared with you:\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "- %s: %s\n", ref.Name, ref.RID)
		}
		b.WriteString("\n")
	}
	if d.CloneLink != "" {
		fmt.Fprintf(&b, "Clone everything at once:\n%s\n\n", d.CloneLink)
	}
	b.WriteString("Talk soon.\n")

	d.Body = b.String()
	return d
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// renderDocument renders the Markdown attachment from the same data as the
// draft body.
func renderDocument(snap session.Snapshot, summary string, refs []share.Reference, clips []ClipSuggestion, cloneLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation with %s\n\n", snap.Partner.Name)
	fmt.Fprintf(&b, "- Date: %s\n", snap.Start.Format("2006-01-02 15:04"))
	if d := snap.Duration(); d > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", transcript.FormatElapsed(d.Seconds()))
	}
	fmt.Fprintf(&b, "- Session: %s\n\n", snap.ID)

	if summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	if len(refs) > 0 {
		b.WriteString("## Shared items\n\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "- **%s** `%s`\n", ref.Name, ref.RID)
		}
		if cloneLink != "" {
			fmt.Fprintf(&b, "\n[Clone everything](%s)\n", cloneLink)
		}
		b.WriteString("\n")
	}

	if len(snap.Invocations) > 0 {
		b.WriteString("## Timeline\n\n")
		for _, inv := range snap.Invocations {
			fmt.Fprintf(&b, "- `%s` %s\n", transcript.FormatElapsed(inv.Elapsed), inv.ItemName)
		}
		b.WriteString("\n")
	}

	if len(clips) > 0 {
		b.WriteString("## Highlights\n\n")
		for _, c := range clips {
			label := c.ItemName
			if label == "" {
				label = c.ItemID
			}
			fmt.Fprintf(&b, "- **%s** %s to %s", label, c.Start, c.End)
			if c.Excerpt != "" {
				fmt.Fprintf(&b, ": \"%s\"", c.Excerpt)
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeDocument(dir, sessionID, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create documents dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}
