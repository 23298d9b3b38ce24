package recognizer

import (
	"errors"
	"fmt"

	"github.com/joss/copilot/internal/protocol"
)

// ErrAlreadyRunning is returned by Start while a recognizer process is alive.
var ErrAlreadyRunning = errors.New("recognizer already running")

// Kind classifies recognizer failures for the user-facing layer.
type Kind string

const (
	KindSpawn             Kind = "spawn"
	KindPermissionDenied  Kind = "permission_denied"
	KindMissingDependency Kind = "missing_dependency"
	KindOutputUnwritable  Kind = "output_unwritable"
	KindUnexpectedExit    Kind = "unexpected_exit"
	KindStderr            Kind = "stderr"
)

// Error is a recognizer failure surfaced to the user.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognizer %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("recognizer %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the call cannot proceed after this error.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindSpawn, KindPermissionDenied, KindMissingDependency, KindUnexpectedExit:
		return true
	}
	return false
}

// UserMessage is the short text shown in a notification.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindSpawn:
		return "Could not start speech recognition. Run 'copilot doctor' to check the setup."
	case KindPermissionDenied:
		return "Microphone permission denied. Allow microphone access for this terminal and try again."
	case KindMissingDependency:
		return "Speech recognition dependencies are missing. Install the recognizer requirements and try again."
	case KindOutputUnwritable:
		return "The transcript file cannot be written. Check that the transcripts folder is writable."
	case KindUnexpectedExit:
		return "Speech recognition stopped unexpectedly: " + e.Detail
	default:
		return "Speech recognition error: " + e.Detail
	}
}

func kindFromProtocol(k protocol.ErrorKind) Kind {
	switch k {
	case protocol.ErrorPermissionDenied:
		return KindPermissionDenied
	case protocol.ErrorMissingDependency:
		return KindMissingDependency
	case protocol.ErrorOutputUnwritable:
		return KindOutputUnwritable
	default:
		return KindStderr
	}
}
