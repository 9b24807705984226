package proc

import "fmt"

// TraceErrorKind classifies a failed debug-control operation.
type TraceErrorKind uint8

const (
	// LaunchFailed means the process could not be created or placed
	// under trace control.
	LaunchFailed TraceErrorKind = iota
	// AccessFailed means a register, memory or wait request on the traced
	// process failed, usually because the address is invalid or the
	// process is gone.
	AccessFailed
)

func (k TraceErrorKind) String() string {
	switch k {
	case LaunchFailed:
		return "launch failed"
	case AccessFailed:
		return "access failed"
	}
	return fmt.Sprintf("TraceErrorKind(%d)", uint8(k))
}

// TraceError is returned when a ptrace or wait request fails. Err holds
// the underlying OS error.
type TraceError struct {
	Kind TraceErrorKind
	Op   string
	Pid  int
	Err  error
}

func (e *TraceError) Error() string {
	if e.Pid != 0 {
		return fmt.Sprintf("%s (pid %d): %s: %v", e.Op, e.Pid, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TraceError) Unwrap() error {
	return e.Err
}

// ProcessExitedError indicates that the process has exited and contains both
// process id and exit status.
type ProcessExitedError struct {
	Pid    int
	Status int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", pe.Pid, pe.Status)
}

// InvalidStateError is returned when an operation is requested while the
// process is in a state that does not allow it, for example reading
// registers while it is running.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: process is %s", e.Op, e.State)
}

// BreakpointExistsError is returned when trying to set a breakpoint at
// an address that already has a breakpoint set for it.
type BreakpointExistsError struct {
	Addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("breakpoint exists at %#x", bpe.Addr)
}

// NoBreakpointError is returned when trying to clear a breakpoint that
// does not exist.
type NoBreakpointError struct {
	Addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#x", nbp.Addr)
}
