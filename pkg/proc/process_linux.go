package proc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/elfdbg/elfdbg/pkg/logflags"
)

// LaunchFlags modify how the target is started.
type LaunchFlags uint8

const (
	// LaunchDisableASLR starts the target with address space layout
	// randomization disabled.
	LaunchDisableASLR LaunchFlags = 1 << iota
)

// Process is a process under trace control. It must only be used by one
// goroutine at a time.
type Process struct {
	pid   int
	path  string
	state State

	// regs caches the register snapshot of the current stop.
	regs *Registers

	breakpoints         map[uint64]*Breakpoint
	breakpointIDCounter int

	// pending holds an event that was already collected by Resume while
	// stepping over a breakpoint, returned by the next WaitForEvent.
	pending *Event
	// pendingStop is set when a SIGSTOP sent by the debugger may still be
	// queued on the target.
	pendingStop bool
	// trapped is set when the last collected stop was a SIGTRAP. It survives
	// a halt so that a breakpoint hit is still recognised afterwards.
	trapped bool

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	exited         bool

	log logflags.Logger
}

func newProcess(path string) *Process {
	dbp := &Process{
		path:           path,
		state:          State{Kind: Launching},
		breakpoints:    make(map[uint64]*Breakpoint),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.TracerLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Launch starts the executable at path under trace control. The program
// receives its own path as the only argument and inherits the environment
// and standard streams of the debugger. On success the process is stopped
// before its first instruction runs.
func Launch(path string, flags LaunchFlags) (*Process, error) {
	var (
		cmd *exec.Cmd
		err error
	)

	dbp := newProcess(path)
	dbp.execPtraceFunc(func() {
		start := func() {
			cmd = &exec.Cmd{
				Path:   path,
				Args:   []string{path},
				Stdin:  os.Stdin,
				Stdout: os.Stdout,
				Stderr: os.Stderr,
				SysProcAttr: &syscall.SysProcAttr{
					Ptrace: true,
				},
			}
			err = cmd.Start()
		}
		if flags&LaunchDisableASLR != 0 {
			withASLRDisabled(start)
		} else {
			start()
		}
	})
	if err != nil {
		dbp.postExit()
		return nil, &TraceError{Kind: LaunchFailed, Op: "launch " + path, Err: err}
	}
	dbp.pid = cmd.Process.Pid
	dbp.log = dbp.log.WithField("pid", dbp.pid)

	_, ws, err := dbp.wait()
	if err != nil {
		dbp.abortLaunch()
		return nil, &TraceError{Kind: LaunchFailed, Op: "waiting for target execve", Pid: dbp.pid, Err: err}
	}
	if ev := Classify(ws); ev.Kind != EventTrap {
		if !ev.Terminal() {
			dbp.abortLaunch()
		} else {
			dbp.postExit()
		}
		return nil, &TraceError{Kind: LaunchFailed, Op: "waiting for target execve", Pid: dbp.pid, Err: errors.New("unexpected " + ev.String())}
	}

	// Make sure the target does not outlive the debugger while traced.
	dbp.execPtraceFunc(func() { err = unix.PtraceSetOptions(dbp.pid, unix.PTRACE_O_EXITKILL) })
	if err != nil {
		dbp.abortLaunch()
		return nil, &TraceError{Kind: LaunchFailed, Op: "set ptrace options", Pid: dbp.pid, Err: err}
	}

	dbp.state = State{Kind: Stopped, Reason: AtEntry, Signal: unix.SIGTRAP}
	dbp.log.Debugf("launched %s", path)
	return dbp, nil
}

// abortLaunch kills a half started target so that nothing is left running
// outside of trace control.
func (dbp *Process) abortLaunch() {
	if err := dbp.kill(); err != nil {
		dbp.log.Errorf("could not kill %d after failed launch: %v", dbp.pid, err)
	}
}

// Pid returns the process id of the target.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Path returns the path the target was launched from.
func (dbp *Process) Path() string {
	return dbp.path
}

// State returns the current state of the target.
func (dbp *Process) State() State {
	return dbp.state
}

// Exited returns whether the process is gone or no longer traced.
func (dbp *Process) Exited() bool {
	return dbp.exited
}

// Running returns whether the process is executing.
func (dbp *Process) Running() bool {
	return dbp.state.Kind == Running
}

// expect checks that the process is in the given state before running op.
func (dbp *Process) expect(op string, kind StateKind) error {
	if dbp.state.Kind == Detached {
		return &InvalidStateError{Op: op, State: dbp.state}
	}
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.pid, Status: dbp.state.ExitCode}
	}
	if dbp.state.Kind != kind {
		return &InvalidStateError{Op: op, State: dbp.state}
	}
	return nil
}

type waitResult struct {
	ws  unix.WaitStatus
	err error
}

// WaitForEvent blocks until the running process changes state and returns
// the classification of the change.
//
// If ctx is cancelled first the process is halted with SIGSTOP, the stop is
// collected so that the process is Stopped (or reported as gone), and
// ctx.Err() is returned together with the collected event. The caller is
// expected to Detach or Kill next.
func (dbp *Process) WaitForEvent(ctx context.Context) (Event, error) {
	if err := dbp.expect("wait", Running); err != nil {
		return Event{}, err
	}
	if ev := dbp.pending; ev != nil {
		dbp.pending = nil
		dbp.record(*ev)
		return *ev, nil
	}

	ch := make(chan waitResult, 1)
	go func() {
		_, ws, err := dbp.wait()
		ch <- waitResult{ws, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return Event{}, &TraceError{Kind: AccessFailed, Op: "wait", Pid: dbp.pid, Err: r.err}
		}
		ev := Classify(r.ws)
		dbp.record(ev)
		return ev, nil
	case <-ctx.Done():
	}

	dbp.log.Debugf("wait interrupted, halting")
	if err := unix.Kill(dbp.pid, unix.SIGSTOP); err != nil && err != unix.ESRCH {
		dbp.log.Errorf("could not halt: %v", err)
	}
	r := <-ch
	if r.err != nil {
		return Event{}, &TraceError{Kind: AccessFailed, Op: "wait", Pid: dbp.pid, Err: r.err}
	}
	ev := Classify(r.ws)
	dbp.record(ev)
	if !ev.Terminal() {
		if ev.Signal != unix.SIGSTOP {
			dbp.pendingStop = true
		}
		dbp.state.Reason = Halted
	}
	return ev, ctx.Err()
}

// record updates the process state after ev was observed.
func (dbp *Process) record(ev Event) {
	dbp.regs = nil
	dbp.trapped = ev.Kind == EventTrap
	switch ev.Kind {
	case EventExited:
		dbp.state = State{Kind: Exited, ExitCode: ev.ExitCode}
		dbp.postExit()
	case EventKilled:
		dbp.state = State{Kind: Killed, Signal: ev.Signal}
		dbp.postExit()
	case EventTrap:
		dbp.state = State{Kind: Stopped, Reason: TrapStopped, Signal: ev.Signal}
	default:
		dbp.state = State{Kind: Stopped, Reason: SignalStopped, Signal: ev.Signal}
	}
	dbp.log.Debugf("event: %s", ev)
}

// Registers returns the register snapshot of the stopped process.
func (dbp *Process) Registers() (*Registers, error) {
	if err := dbp.expect("read registers", Stopped); err != nil {
		return nil, err
	}
	if dbp.regs == nil {
		regs, err := dbp.getRegisters()
		if err != nil {
			return nil, &TraceError{Kind: AccessFailed, Op: "read registers", Pid: dbp.pid, Err: err}
		}
		dbp.regs = regs
	}
	r := *dbp.regs
	return &r, nil
}

// Resume continues the stopped process until the next trace event. If the
// process is stopped right after one of its breakpoints, the original
// instruction is executed first and the breakpoint re-inserted.
//
// The signal that stopped the process is delivered to it on resume, unless
// it is one the debugger consumes (see deliverable).
func (dbp *Process) Resume() error {
	if err := dbp.expect("continue", Stopped); err != nil {
		return err
	}
	if bp, err := dbp.trappedBreakpoint(); err != nil {
		return err
	} else if bp != nil {
		ev, err := dbp.stepOverBreakpoint(bp)
		if err != nil {
			return err
		}
		if ev.Kind != EventTrap {
			dbp.pending = &ev
			dbp.state = State{Kind: Running}
			return nil
		}
	}

	sig := dbp.resumeSignal()
	var err error
	dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, sig) })
	if err != nil {
		return &TraceError{Kind: AccessFailed, Op: "continue", Pid: dbp.pid, Err: err}
	}
	dbp.regs = nil
	dbp.state = State{Kind: Running}
	return nil
}

// resumeSignal returns the signal to inject when the stopped process is
// restarted, 0 for none.
func (dbp *Process) resumeSignal() int {
	if dbp.state.Reason != SignalStopped || !deliverable(dbp.state.Signal) {
		return 0
	}
	return int(dbp.state.Signal)
}

// deliverable reports whether sig is passed on to the target when it is
// restarted after stopping on it. SIGTRAP and SIGSTOP are raised by tracing
// itself. SIGINT is meant for the debugger, the target shares its process
// group and sees every interrupt typed at the prompt. SIGTTIN and SIGTTOU
// would only stop the target again.
func deliverable(sig unix.Signal) bool {
	switch sig {
	case unix.SIGTRAP, unix.SIGSTOP, unix.SIGINT, unix.SIGTTIN, unix.SIGTTOU:
		return false
	}
	return true
}

// Step executes a single instruction and waits for the resulting event. A
// pending signal is delivered the same way Resume delivers it.
func (dbp *Process) Step() (Event, error) {
	if err := dbp.expect("step", Stopped); err != nil {
		return Event{}, err
	}
	bp, err := dbp.trappedBreakpoint()
	if err != nil {
		return Event{}, err
	}
	if bp != nil {
		ev, err := dbp.stepOverBreakpoint(bp)
		if err != nil {
			return Event{}, err
		}
		dbp.record(ev)
		return ev, nil
	}
	ev, err := dbp.singleStep(dbp.resumeSignal())
	if err != nil {
		return Event{}, err
	}
	dbp.record(ev)
	return ev, nil
}

func (dbp *Process) singleStep(sig int) (Event, error) {
	var err error
	dbp.execPtraceFunc(func() { err = ptraceSingleStep(dbp.pid, sig) })
	if err != nil {
		return Event{}, &TraceError{Kind: AccessFailed, Op: "single step", Pid: dbp.pid, Err: err}
	}
	_, ws, err := dbp.wait()
	if err != nil {
		return Event{}, &TraceError{Kind: AccessFailed, Op: "wait", Pid: dbp.pid, Err: err}
	}
	return Classify(ws), nil
}

// Detach releases trace control and lets the process run freely. All
// breakpoints are removed first so that the original code is intact, and a
// process stopped on one of them is rewound to the breakpoint address. A
// running process is halted before detaching.
func (dbp *Process) Detach() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.pid, Status: dbp.state.ExitCode}
	}
	if dbp.Running() {
		if ev := dbp.pending; ev != nil {
			dbp.pending = nil
			dbp.record(*ev)
		} else if err := dbp.halt(); err != nil {
			return err
		}
		if dbp.exited {
			return ProcessExitedError{Pid: dbp.pid, Status: dbp.state.ExitCode}
		}
	}

	if bp, err := dbp.trappedBreakpoint(); err != nil {
		return err
	} else if bp != nil {
		if err := dbp.setPC(bp.Addr); err != nil {
			return &TraceError{Kind: AccessFailed, Op: "rewind pc", Pid: dbp.pid, Err: err}
		}
		dbp.regs = nil
	}
	for _, bp := range dbp.Breakpoints() {
		if err := dbp.restore(bp); err != nil {
			dbp.log.Errorf("could not restore %s: %v", bp, err)
		}
	}

	var err error
	dbp.execPtraceFunc(func() { err = ptraceDetach(dbp.pid, 0) })
	if err != nil {
		return &TraceError{Kind: AccessFailed, Op: "detach", Pid: dbp.pid, Err: err}
	}
	if dbp.pendingStop {
		// SIGCONT discards a pending stop signal.
		unix.Kill(dbp.pid, unix.SIGCONT)
	}
	dbp.log.Debugf("detached")
	dbp.state = State{Kind: Detached}
	dbp.postExit()
	return nil
}

// halt stops a running process and collects the stop.
func (dbp *Process) halt() error {
	if err := unix.Kill(dbp.pid, unix.SIGSTOP); err != nil {
		return &TraceError{Kind: AccessFailed, Op: "halt", Pid: dbp.pid, Err: err}
	}
	_, ws, err := dbp.wait()
	if err != nil {
		return &TraceError{Kind: AccessFailed, Op: "wait", Pid: dbp.pid, Err: err}
	}
	ev := Classify(ws)
	dbp.record(ev)
	if !ev.Terminal() {
		if ev.Signal != unix.SIGSTOP {
			dbp.pendingStop = true
		}
		dbp.state.Reason = Halted
	}
	return nil
}

// Kill terminates the process and reaps it.
func (dbp *Process) Kill() error {
	if dbp.exited {
		return nil
	}
	return dbp.kill()
}

func (dbp *Process) kill() error {
	if err := unix.Kill(dbp.pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return &TraceError{Kind: AccessFailed, Op: "kill", Pid: dbp.pid, Err: err}
	}
	for {
		_, ws, err := dbp.wait()
		if err != nil {
			dbp.state = State{Kind: Killed, Signal: unix.SIGKILL}
			dbp.postExit()
			if err == unix.ECHILD {
				return nil
			}
			return &TraceError{Kind: AccessFailed, Op: "wait", Pid: dbp.pid, Err: err}
		}
		if ev := Classify(ws); ev.Terminal() {
			dbp.record(ev)
			return nil
		}
	}
}

// wait collects the next status change of the process, retrying when
// interrupted.
func (dbp *Process) wait() (int, unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(dbp.pid, &status, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		return wpid, status, err
	}
}

// Breakpoints returns the breakpoints currently set, ordered by ID.
func (dbp *Process) Breakpoints() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(dbp.breakpoints))
	for _, bp := range dbp.breakpoints {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].ID < bps[j].ID })
	return bps
}

// BreakpointAt returns the breakpoint set at addr, if any.
func (dbp *Process) BreakpointAt(addr uint64) (*Breakpoint, bool) {
	bp, ok := dbp.breakpoints[addr]
	return bp, ok
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

func (dbp *Process) postExit() {
	if dbp.exited {
		return
	}
	dbp.exited = true
	close(dbp.ptraceChan)
	close(dbp.ptraceDoneChan)
}
