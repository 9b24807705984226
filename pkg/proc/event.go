package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventKind is the debugger relevant classification of a wait status.
type EventKind uint8

const (
	// EventExited means the process exited normally. Terminal.
	EventExited EventKind = iota
	// EventKilled means the process was terminated by a signal. Terminal.
	EventKilled
	// EventTrap means the process stopped on a breakpoint or after a
	// single step.
	EventTrap
	// EventFatalSignal means the process stopped on a hardware fault
	// (SIGSEGV, SIGBUS, SIGFPE). The session must end without resuming it.
	EventFatalSignal
	// EventBenignSignal means the process stopped on SIGCHLD or SIGABRT.
	// It ends the wait loop but is not a fault.
	EventBenignSignal
	// EventGenericSignal means the process stopped on any other signal and
	// can be resumed.
	EventGenericSignal
)

func (k EventKind) String() string {
	switch k {
	case EventExited:
		return "exited"
	case EventKilled:
		return "killed"
	case EventTrap:
		return "trap"
	case EventFatalSignal:
		return "fatal signal"
	case EventBenignSignal:
		return "benign signal"
	case EventGenericSignal:
		return "signal"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// SignalKind names the signals that get special treatment.
type SignalKind uint8

const (
	OtherSignal SignalKind = iota
	SegmentationFault
	BusError
	FloatingPointException
	ChildStatusChange
	AbortNotification
)

func (k SignalKind) String() string {
	switch k {
	case SegmentationFault:
		return "segmentation fault"
	case BusError:
		return "bus error"
	case FloatingPointException:
		return "floating point exception"
	case ChildStatusChange:
		return "child status change"
	case AbortNotification:
		return "abort"
	}
	return "other"
}

func signalKind(sig unix.Signal) SignalKind {
	switch sig {
	case unix.SIGSEGV:
		return SegmentationFault
	case unix.SIGBUS:
		return BusError
	case unix.SIGFPE:
		return FloatingPointException
	case unix.SIGCHLD:
		return ChildStatusChange
	case unix.SIGABRT:
		return AbortNotification
	}
	return OtherSignal
}

// Event is the result of waiting on a traced process.
type Event struct {
	Kind EventKind
	// ExitCode is set for EventExited.
	ExitCode int
	// Signal is the terminating signal for EventKilled and the stop signal
	// for every stop event.
	Signal unix.Signal
}

// SignalKind returns the named class of the event signal.
func (e Event) SignalKind() SignalKind {
	return signalKind(e.Signal)
}

// Terminal returns true if the process no longer exists after the event.
func (e Event) Terminal() bool {
	return e.Kind == EventExited || e.Kind == EventKilled
}

// SessionFatal returns true for hardware faults, after which the target
// must not be resumed.
func (e Event) SessionFatal() bool {
	return e.Kind == EventFatalSignal
}

// EndsSession returns true if the wait loop should stop after this event.
func (e Event) EndsSession() bool {
	return e.Terminal() || e.Kind == EventFatalSignal || e.Kind == EventBenignSignal
}

func (e Event) String() string {
	switch e.Kind {
	case EventExited:
		return fmt.Sprintf("exited with status %d", e.ExitCode)
	case EventKilled:
		return fmt.Sprintf("killed by %s", SignalName(e.Signal))
	case EventTrap:
		return "trap"
	case EventFatalSignal, EventBenignSignal:
		return fmt.Sprintf("%s (%s)", e.SignalKind(), SignalName(e.Signal))
	}
	return fmt.Sprintf("stopped by %s", SignalName(e.Signal))
}

// SignalName returns the conventional name of sig, such as SIGSEGV.
func SignalName(sig unix.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// Classify maps a wait status to exactly one Event. It is total: statuses
// that are neither exits, deaths nor stops (a continued notification, or
// an encoding the kernel does not produce) are reported as a generic
// signal stop so that nothing is dropped.
func Classify(ws unix.WaitStatus) Event {
	switch {
	case ws.Exited():
		return Event{Kind: EventExited, ExitCode: ws.ExitStatus()}
	case ws.Signaled():
		return Event{Kind: EventKilled, Signal: ws.Signal()}
	case ws.Stopped():
		sig := ws.StopSignal()
		if sig == unix.SIGTRAP {
			return Event{Kind: EventTrap, Signal: sig}
		}
		switch signalKind(sig) {
		case SegmentationFault, BusError, FloatingPointException:
			return Event{Kind: EventFatalSignal, Signal: sig}
		case ChildStatusChange, AbortNotification:
			return Event{Kind: EventBenignSignal, Signal: sig}
		}
		return Event{Kind: EventGenericSignal, Signal: sig}
	case ws.Continued():
		return Event{Kind: EventGenericSignal, Signal: unix.SIGCONT}
	}
	return Event{Kind: EventGenericSignal, Signal: unix.Signal((uint32(ws) >> 8) & 0xff)}
}
