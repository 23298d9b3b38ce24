package protocol

import "strings"

// ErrorKind names a recognized stderr failure pattern.
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorPermissionDenied  ErrorKind = "permission_denied"
	ErrorMissingDependency ErrorKind = "missing_dependency"
	ErrorOutputUnwritable  ErrorKind = "output_unwritable"
)

// Diagnosis is the classification of one stderr line.
type Diagnosis struct {
	// Benign lines are shutdown-race noise and must be suppressed
	Benign bool

	// Kind is set when the line matches a known failure pattern
	Kind ErrorKind

	Line string
}

// benignStderr lists messages printed when the recognizer is killed while
// still initializing (model load, audio device open).
var benignStderr = []string{
	"keyboardinterrupt",
	"brokenpipeerror",
	"exception ignored in",
	"resource_tracker: there appear to be",
	"leaked semaphore objects",
	"error during shutdown",
	"shutting down transcription",
	"transcription session ended",
}

var errorPatterns = []struct {
	kind    ErrorKind
	needles []string
}{
	{ErrorPermissionDenied, []string{"permission denied", "permissionerror", "operation not permitted", "microphone access"}},
	{ErrorMissingDependency, []string{"missing dependency", "modulenotfounderror", "no module named", "importerror", "command not found"}},
	{ErrorOutputUnwritable, []string{"read-only file system", "error writing to file", "output directory does not exist", "no space left on device"}},
}

// ClassifyStderr decides whether a stderr line is noise, a known failure or
// an unrecognized error.
func ClassifyStderr(line string) Diagnosis {
	trimmed := strings.TrimSpace(line)
	d := Diagnosis{Line: trimmed}
	if trimmed == "" {
		d.Benign = true
		return d
	}

	lower := strings.ToLower(trimmed)
	for _, needle := range benignStderr {
		if strings.Contains(lower, needle) {
			d.Benign = true
			return d
		}
	}

	for _, p := range errorPatterns {
		for _, needle := range p.needles {
			if strings.Contains(lower, needle) {
				d.Kind = p.kind
				return d
			}
		}
	}
	return d
}
