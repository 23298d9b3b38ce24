package selftest

import (
	"os"

	"golang.org/x/term"
)

// HasTTY reports whether stdin and stdout are both attached to a terminal,
// which the live call view needs for key input and rendering.
func HasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
