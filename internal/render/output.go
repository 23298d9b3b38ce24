package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/copilot/internal/alerts"
	"github.com/joss/copilot/internal/archive"
	"github.com/joss/copilot/internal/audio"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/pipeline"
	"github.com/joss/copilot/internal/transcript"
)

var (
	dim    = color.New(color.FgHiBlack).SprintFunc()
	accent = color.New(color.FgCyan).SprintFunc()
	warn   = color.New(color.FgYellow).SprintFunc()
	bad    = color.New(color.FgRed).SprintFunc()
	good   = color.New(color.FgGreen).SprintFunc()
)

// Renderer formats domain values. With pretty off it emits stable
// key=value lines suitable for scripts.
type Renderer struct {
	pretty bool
}

// New creates a renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Results formats live search results, numbered for invocation.
func (r *Renderer) Results(results []knowledge.Result) string {
	if len(results) == 0 {
		return "No matching items\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Related knowledge\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for i, res := range results {
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s %s\n", color.YellowString("[%d]", i+1), res.Name, color.HiBlackString("%.1f", res.Score))
			if res.Snippet != "" {
				fmt.Fprintf(&sb, "    %s\n", dim(Truncate(res.Snippet, 100)))
			}
		} else {
			fmt.Fprintf(&sb, "%d\t%s\t%s\t%.2f\n", i+1, res.ID, res.Name, res.Score)
		}
	}
	return sb.String()
}

// Items formats a plain item listing.
func (r *Renderer) Items(items []knowledge.Item) string {
	if len(items) == 0 {
		return "No items found\n"
	}
	var sb strings.Builder
	for _, it := range items {
		if r.pretty {
			line := fmt.Sprintf("%s %s %s", accent(it.ID), it.Name, dim(it.Kind))
			if len(it.Tags) > 0 {
				line += " " + dim("#"+strings.Join(it.Tags, " #"))
			}
			sb.WriteString(line + "\n")
		} else {
			fmt.Fprintf(&sb, "%s\t%s\t%s\t%s\n", it.ID, it.Kind, it.Name, strings.Join(it.Tags, ","))
		}
	}
	return sb.String()
}

// Wrapup formats a finished pipeline run.
func (r *Renderer) Wrapup(res *pipeline.Result) string {
	var sb strings.Builder
	snap := res.Snapshot

	if r.pretty {
		sb.WriteString(color.CyanString("Call with %s\n", snap.Partner.Name))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
		fmt.Fprintf(&sb, "  Duration:  %s\n", FormatDuration(snap.Duration()))
		fmt.Fprintf(&sb, "  Invoked:   %d\n", len(snap.Invocations))
		fmt.Fprintf(&sb, "  Summary:   %s\n", dim(res.Provider))
		if res.Summary != "" {
			for _, line := range strings.Split(res.Summary, "\n") {
				fmt.Fprintf(&sb, "    %s\n", line)
			}
		}
	} else {
		fmt.Fprintf(&sb, "session=%s partner=%s duration=%s invocations=%d provider=%s\n",
			snap.ID, snap.Partner.ID, snap.Duration().Round(time.Second), len(snap.Invocations), res.Provider)
	}

	r.references(&sb, res)
	r.clips(&sb, res.Clips)

	if res.Delivery.Method != "" {
		where := res.Delivery.Path
		if where == "" && res.Draft != nil {
			where = res.Draft.To
		}
		if r.pretty {
			fmt.Fprintf(&sb, "\n%s draft %s (%s)\n", good("✓"), res.Delivery.Method, where)
		} else {
			fmt.Fprintf(&sb, "delivery=%s target=%s\n", res.Delivery.Method, where)
		}
	}

	r.stageErrors(&sb, res.Errors)
	return sb.String()
}

func (r *Renderer) references(sb *strings.Builder, res *pipeline.Result) {
	if len(res.References) == 0 && len(res.ShareFailures) == 0 {
		return
	}
	if r.pretty {
		sb.WriteString("\n  Shared:\n")
		for _, ref := range res.References {
			fmt.Fprintf(sb, "    %s %s %s\n", good("✓"), ref.Name, dim(ref.RID))
		}
		for _, id := range sortedKeys(res.ShareFailures) {
			fmt.Fprintf(sb, "    %s %s %s\n", bad("✗"), id, dim(res.ShareFailures[id].Error()))
		}
		if res.Draft != nil && res.Draft.CloneLink != "" {
			fmt.Fprintf(sb, "    └─ %s\n", res.Draft.CloneLink)
		}
		return
	}
	for _, ref := range res.References {
		fmt.Fprintf(sb, "shared\t%s\t%s\n", ref.ItemID, ref.RID)
	}
	for _, id := range sortedKeys(res.ShareFailures) {
		fmt.Fprintf(sb, "share_failed\t%s\t%v\n", id, res.ShareFailures[id])
	}
}

func (r *Renderer) clips(sb *strings.Builder, clips []audio.Clip) {
	if len(clips) == 0 {
		return
	}
	if r.pretty {
		sb.WriteString("\n  Clips:\n")
	}
	for _, c := range clips {
		span := transcript.FormatElapsed(c.Start) + "-" + transcript.FormatElapsed(c.End)
		if r.pretty {
			icon := StatusIcon(string(c.Status))
			if c.Status == audio.StatusFailed {
				icon = bad(icon)
			}
			fmt.Fprintf(sb, "    %s %s %s %s\n", icon, c.ItemName, span, dim(c.Path))
		} else {
			fmt.Fprintf(sb, "clip\t%s\t%s\t%s\t%s\n", c.ItemID, span, c.Status, c.Path)
		}
	}
}

func (r *Renderer) stageErrors(sb *strings.Builder, errs map[string]error) {
	if len(errs) == 0 {
		return
	}
	for _, stage := range sortedKeys(errs) {
		if r.pretty {
			fmt.Fprintf(sb, "%s %s: %v\n", warn("!"), stage, errs[stage])
		} else {
			fmt.Fprintf(sb, "stage_error\t%s\t%v\n", stage, errs[stage])
		}
	}
}

// Runs formats the archive listing.
func (r *Renderer) Runs(runs []archive.RunInfo) string {
	if len(runs) == 0 {
		return "No archived calls\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Recent calls\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, run := range runs {
		if r.pretty {
			clips := fmt.Sprintf("%d clips", run.Clips)
			if run.Failed > 0 {
				clips += color.RedString(" (%d failed)", run.Failed)
			}
			fmt.Fprintf(&sb, "%s %s %-20s %6s  %d invoked, %s\n",
				dim(run.Start.Local().Format("Jan 02 15:04")),
				accent(run.ID[:min(8, len(run.ID))]),
				Truncate(run.PartnerName, 20),
				FormatDuration(run.Duration()),
				run.Invocations, clips)
		} else {
			fmt.Fprintf(&sb, "%s\t%s\t%s\t%d\t%d\n", run.ID, run.Start.Format(time.RFC3339), run.PartnerName, run.Invocations, run.Clips)
		}
	}
	return sb.String()
}

// Run formats one archived call in full.
func (r *Renderer) Run(run *archive.Run) string {
	res := &pipeline.Result{
		Snapshot:      run.Snapshot,
		Summary:       run.Summary,
		Provider:      run.Provider,
		Clips:         run.Clips,
		Draft:         run.Draft,
		Delivery:      run.Delivery,
		ShareFailures: map[string]error{},
		Errors:        map[string]error{},
	}
	if run.Draft != nil {
		res.References = run.Draft.References
	}
	for stage, msg := range run.Errors {
		res.Errors[stage] = fmt.Errorf("%s", msg)
	}

	var sb strings.Builder
	sb.WriteString(r.Wrapup(res))
	if len(run.Snapshot.Invocations) > 0 {
		if r.pretty {
			sb.WriteString("\n  Timeline:\n")
		}
		for _, inv := range run.Snapshot.Invocations {
			if r.pretty {
				fmt.Fprintf(&sb, "    %s %s %s\n", dim(transcript.FormatElapsed(inv.Elapsed)), alerts.Icon(alerts.LevelInfo), inv.ItemName)
			} else {
				fmt.Fprintf(&sb, "invocation\t%.1f\t%s\n", inv.Elapsed, inv.ItemID)
			}
		}
	}
	return sb.String()
}

// Alert formats one notification line.
func (r *Renderer) Alert(a alerts.Alert) string {
	if !r.pretty {
		return fmt.Sprintf("[%s] %s: %s\n", a.Level, a.Title, a.Message)
	}
	title := a.Title
	switch a.Level {
	case alerts.LevelError, alerts.LevelCritical:
		title = bad(title)
	case alerts.LevelWarning:
		title = warn(title)
	default:
		title = accent(title)
	}
	return fmt.Sprintf("%s %s %s\n", alerts.Icon(a.Level), title, a.Message)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
