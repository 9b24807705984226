package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StateKind is the lifecycle phase of a traced process.
type StateKind uint8

const (
	Launching StateKind = iota
	Running
	Stopped
	Exited
	Killed
	Detached
)

func (k StateKind) String() string {
	switch k {
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	case Detached:
		return "detached"
	}
	return fmt.Sprintf("StateKind(%d)", uint8(k))
}

// StopReason tells why a process is Stopped.
type StopReason uint8

const (
	// AtEntry is the stop right after the new program image was loaded,
	// before its entry point runs.
	AtEntry StopReason = iota
	// TrapStopped follows a breakpoint or a single step.
	TrapStopped
	// SignalStopped follows the delivery of any other signal.
	SignalStopped
	// Halted is a stop requested by the debugger itself.
	Halted
)

func (r StopReason) String() string {
	switch r {
	case AtEntry:
		return "at entry"
	case TrapStopped:
		return "trap"
	case SignalStopped:
		return "signal"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("StopReason(%d)", uint8(r))
}

// State is the current state of a traced process. Reason and Signal are
// meaningful while Stopped, ExitCode once Exited and Signal once Killed.
type State struct {
	Kind     StateKind
	Reason   StopReason
	Signal   unix.Signal
	ExitCode int
}

func (s State) String() string {
	switch s.Kind {
	case Stopped:
		if s.Reason == SignalStopped {
			return fmt.Sprintf("stopped (%s)", SignalName(s.Signal))
		}
		return fmt.Sprintf("stopped (%s)", s.Reason)
	case Exited:
		return fmt.Sprintf("exited (%d)", s.ExitCode)
	case Killed:
		return fmt.Sprintf("killed (%s)", SignalName(s.Signal))
	}
	return s.Kind.String()
}

// Terminal returns true if the process is gone or no longer traced.
func (s State) Terminal() bool {
	return s.Kind == Exited || s.Kind == Killed || s.Kind == Detached
}
