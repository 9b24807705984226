package terminal

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/elfdbg/elfdbg/pkg/config"
	"github.com/elfdbg/elfdbg/pkg/elfimage"
	"github.com/elfdbg/elfdbg/pkg/proc"
)

// fakeTarget replays a list of events instead of tracing a real process.
type fakeTarget struct {
	pid    int
	state  proc.State
	regs   proc.Registers
	mem    map[uint64]uint64
	bps    map[uint64]*proc.Breakpoint
	nextID int

	// events are returned in order by WaitForEvent and Step.
	events []proc.Event
	// blockWait makes WaitForEvent block until its context is done.
	blockWait bool

	detachErr error
	detached  bool
	killed    bool
	resumed   int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		pid:   42,
		state: proc.State{Kind: proc.Stopped, Reason: proc.AtEntry, Signal: unix.SIGTRAP},
		regs:  proc.Registers{Rip: 0x401000, Rsp: 0x7ffc0000},
		mem:   make(map[uint64]uint64),
		bps:   make(map[uint64]*proc.Breakpoint),
	}
}

func (ft *fakeTarget) stopped(op string) error {
	switch ft.state.Kind {
	case proc.Exited, proc.Killed:
		return proc.ProcessExitedError{Pid: ft.pid, Status: ft.state.ExitCode}
	case proc.Stopped:
		return nil
	}
	return &proc.InvalidStateError{Op: op, State: ft.state}
}

func (ft *fakeTarget) Pid() int          { return ft.pid }
func (ft *fakeTarget) State() proc.State { return ft.state }

func (ft *fakeTarget) Registers() (*proc.Registers, error) {
	if err := ft.stopped("read registers"); err != nil {
		return nil, err
	}
	r := ft.regs
	return &r, nil
}

func (ft *fakeTarget) PeekWord(addr uint64) (uint64, error) {
	if err := ft.stopped("read memory"); err != nil {
		return 0, err
	}
	return ft.mem[addr], nil
}

func (ft *fakeTarget) Resume() error {
	if err := ft.stopped("continue"); err != nil {
		return err
	}
	ft.resumed++
	ft.state = proc.State{Kind: proc.Running}
	return nil
}

func (ft *fakeTarget) next() proc.Event {
	ev := ft.events[0]
	ft.events = ft.events[1:]
	switch ev.Kind {
	case proc.EventExited:
		ft.state = proc.State{Kind: proc.Exited, ExitCode: ev.ExitCode}
	case proc.EventKilled:
		ft.state = proc.State{Kind: proc.Killed, Signal: ev.Signal}
	case proc.EventTrap:
		ft.state = proc.State{Kind: proc.Stopped, Reason: proc.TrapStopped, Signal: ev.Signal}
	default:
		ft.state = proc.State{Kind: proc.Stopped, Reason: proc.SignalStopped, Signal: ev.Signal}
	}
	return ev
}

func (ft *fakeTarget) Step() (proc.Event, error) {
	if err := ft.stopped("step"); err != nil {
		return proc.Event{}, err
	}
	ft.regs.Rip++
	return ft.next(), nil
}

func (ft *fakeTarget) WaitForEvent(ctx context.Context) (proc.Event, error) {
	if ft.state.Kind != proc.Running {
		return proc.Event{}, &proc.InvalidStateError{Op: "wait", State: ft.state}
	}
	if ft.blockWait {
		<-ctx.Done()
		ft.state = proc.State{Kind: proc.Stopped, Reason: proc.Halted, Signal: unix.SIGSTOP}
		return proc.Event{Kind: proc.EventGenericSignal, Signal: unix.SIGSTOP}, ctx.Err()
	}
	return ft.next(), nil
}

func (ft *fakeTarget) SetBreakpoint(addr uint64) (*proc.Breakpoint, error) {
	if err := ft.stopped("set breakpoint"); err != nil {
		return nil, err
	}
	if _, ok := ft.bps[addr]; ok {
		return nil, proc.BreakpointExistsError{Addr: addr}
	}
	ft.nextID++
	bp := &proc.Breakpoint{ID: ft.nextID, Addr: addr, OriginalByte: 0x55}
	ft.bps[addr] = bp
	return bp, nil
}

func (ft *fakeTarget) ClearBreakpoint(addr uint64) (*proc.Breakpoint, error) {
	bp, ok := ft.bps[addr]
	if !ok {
		return nil, proc.NoBreakpointError{Addr: addr}
	}
	delete(ft.bps, addr)
	return bp, nil
}

func (ft *fakeTarget) Breakpoints() []*proc.Breakpoint {
	var bps []*proc.Breakpoint
	for _, bp := range ft.bps {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].ID < bps[j].ID })
	return bps
}

func (ft *fakeTarget) BreakpointAt(addr uint64) (*proc.Breakpoint, bool) {
	bp, ok := ft.bps[addr]
	return bp, ok
}

func (ft *fakeTarget) Detach() error {
	if ft.detachErr != nil {
		return ft.detachErr
	}
	ft.detached = true
	ft.state = proc.State{Kind: proc.Detached}
	return nil
}

func (ft *fakeTarget) Kill() error {
	ft.killed = true
	ft.state = proc.State{Kind: proc.Killed, Signal: unix.SIGKILL}
	return nil
}

// scriptedLines feeds a fixed list of command lines, then io.EOF.
type scriptedLines struct {
	lines []string
}

func (s *scriptedLines) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *scriptedLines) AppendHistory(string) {}
func (s *scriptedLines) Close() error         { return nil }

// blockingLines never returns a line.
type blockingLines struct {
	done chan struct{}
}

func (b *blockingLines) Prompt(string) (string, error) {
	<-b.done
	return "", io.EOF
}

func (b *blockingLines) AppendHistory(string) {}
func (b *blockingLines) Close() error         { return nil }

// FakeTerminal is a Term writing to buffers.
type FakeTerminal struct {
	*Term
	target         *fakeTarget
	stdout, stderr bytes.Buffer
}

func newFakeTerminal(t *testing.T, target *fakeTarget, syms *elfimage.SymbolTable, lines ...string) *FakeTerminal {
	t.Helper()
	ft := &FakeTerminal{target: target}
	ft.Term = newTerm(target, nil, syms, &config.Config{}, &scriptedLines{lines: lines}, &ft.stdout, &ft.stderr)
	return ft
}

// Exec runs a single command and returns its output.
func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.stdout.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.stdout.String(), err
}
