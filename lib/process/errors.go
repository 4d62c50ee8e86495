package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWatchdogTimeout = errors.New("kim exceeded its maximum runtime")
	ErrKilledBySignal  = errors.New("kim was killed by a signal")
)

// ExitError is returned when kim exits with a non-zero status. It carries the
// output accumulated up to the exit so callers can show it.
//
// A child that died from a signal has ExitCode -1 and Signal set; TimedOut is
// true when that signal was sent by the watchdog.
type ExitError struct {
	Result
	Args     []string
	TimedOut bool
}

func (e *ExitError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.Signal != "" {
		if e.TimedOut {
			return fmt.Sprintf("kim %s: killed by %s after exceeding its maximum runtime", cmd, e.Signal)
		}
		return fmt.Sprintf("kim %s: killed by %s", cmd, e.Signal)
	}
	return fmt.Sprintf("kim %s: exit code %d", cmd, e.ExitCode)
}

// Is reports ErrWatchdogTimeout and ErrKilledBySignal matches.
func (e *ExitError) Is(target error) bool {
	switch target {
	case ErrWatchdogTimeout:
		return e.TimedOut
	case ErrKilledBySignal:
		return e.Signal != ""
	default:
		return false
	}
}

// SpawnError is returned when the kim executable could not be started.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
