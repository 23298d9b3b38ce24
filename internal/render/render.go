// Package render formats copilot output for plain terminals.
// Presentation only; no business logic lives here.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// Writer wraps an io.Writer with line-oriented helpers.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer on os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Section writes a section header.
func (w *Writer) Section(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, strings.ToUpper(title)+":")
}

// Item writes an indented item line.
func (w *Writer) Item(format string, args ...any) {
	fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// Nested writes a nested item with tree connector.
func (w *Writer) Nested(format string, args ...any) {
	fmt.Fprintf(w.out, "    └─ "+format+"\n", args...)
}

// Raw writes s unchanged.
func (w *Writer) Raw(s string) {
	io.WriteString(w.out, s)
}

// StatusIcon returns the icon for a check or clip status.
func StatusIcon(status string) string {
	switch status {
	case "ok", "created", "smtp", "outbox":
		return "✓"
	case "error", "failed":
		return "✗"
	case "degraded", "pending", "warning":
		return "!"
	default:
		return "•"
	}
}

// BoolIcon returns icon for boolean.
func BoolIcon(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}

// Truncate shortens s to max runes.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
