package proc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// writeScript writes an executable shell script into a temporary directory
// and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// launch starts path under trace control, skipping the test when the
// environment does not allow tracing.
func launch(t *testing.T, path string) *Process {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("%s not available: %v", path, err)
	}
	p, err := Launch(path, 0)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
			t.Skipf("tracing not permitted: %v", err)
		}
		t.Fatalf("Launch(%s): %v", path, err)
	}
	t.Cleanup(func() { p.Kill() })
	return p
}

// reap waits for a detached target, which is still our child, to end.
func reap(t *testing.T, pid int) unix.WaitStatus {
	t.Helper()
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, unix.WALL, nil); err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestLaunchStopsAtEntry(t *testing.T) {
	p := launch(t, "/bin/true")
	s := p.State()
	if s.Kind != Stopped || s.Reason != AtEntry {
		t.Fatalf("state after launch %v", s)
	}
	if p.Pid() <= 0 {
		t.Fatalf("bad pid %d", p.Pid())
	}
	if p.Path() != "/bin/true" {
		t.Fatalf("path %q", p.Path())
	}
}

func TestExitStatus(t *testing.T) {
	p := launch(t, "/bin/true")
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err := p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventExited || ev.ExitCode != 0 {
		t.Fatalf("got %v, want exit 0", ev)
	}
	if !p.Exited() || p.State().Kind != Exited {
		t.Fatalf("state after exit %v", p.State())
	}

	var pe ProcessExitedError
	if _, err := p.Registers(); !errors.As(err, &pe) {
		t.Fatalf("Registers after exit: %v", err)
	}
	if err := p.Resume(); !errors.As(err, &pe) {
		t.Fatalf("Resume after exit: %v", err)
	}
}

func TestNonZeroExitStatus(t *testing.T) {
	p := launch(t, writeScript(t, "exit 7"))
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err := p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventExited || ev.ExitCode != 7 {
		t.Fatalf("got %v, want exit 7", ev)
	}
}

func TestSegmentationFault(t *testing.T) {
	p := launch(t, writeScript(t, "kill -SEGV $$"))
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err := p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventFatalSignal || ev.Signal != unix.SIGSEGV {
		t.Fatalf("got %v, want SIGSEGV", ev)
	}
	if ev.SignalKind() != SegmentationFault || !ev.SessionFatal() {
		t.Fatalf("SIGSEGV classified as %v", ev.SignalKind())
	}
	s := p.State()
	if s.Kind != Stopped || s.Reason != SignalStopped || s.Signal != unix.SIGSEGV {
		t.Fatalf("state %v", s)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
	if p.State().Kind != Killed {
		t.Fatalf("state after kill %v", p.State())
	}
}

func TestInvalidState(t *testing.T) {
	p := launch(t, writeScript(t, "sleep 1"))
	var ise *InvalidStateError
	if _, err := p.WaitForEvent(context.Background()); !errors.As(err, &ise) {
		t.Fatalf("WaitForEvent while stopped: %v", err)
	}
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Registers(); !errors.As(err, &ise) {
		t.Fatalf("Registers while running: %v", err)
	}
	if _, err := p.PeekWord(0); !errors.As(err, &ise) {
		t.Fatalf("PeekWord while running: %v", err)
	}
	if _, err := p.Step(); !errors.As(err, &ise) {
		t.Fatalf("Step while running: %v", err)
	}
	if err := p.Resume(); !errors.As(err, &ise) {
		t.Fatalf("Resume while running: %v", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := launch(t, writeScript(t, "sleep 5"))
	pid := p.Pid()
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ev, err := p.WaitForEvent(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForEvent: %v %v", ev, err)
	}
	s := p.State()
	if s.Kind != Stopped || s.Reason != Halted {
		t.Fatalf("state after cancel %v", s)
	}
	if err := p.Detach(); err != nil {
		t.Fatal(err)
	}
	if p.State().Kind != Detached {
		t.Fatalf("state after detach %v", p.State())
	}
	var ise *InvalidStateError
	if _, err := p.Registers(); !errors.As(err, &ise) {
		t.Fatalf("Registers after detach: %v", err)
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		t.Fatal(err)
	}
	if ws := reap(t, pid); !ws.Signaled() || ws.Signal() != unix.SIGKILL {
		t.Fatalf("detached target ended with %#x", uint32(ws))
	}
}

func TestDetachRunning(t *testing.T) {
	p := launch(t, writeScript(t, "sleep 5"))
	pid := p.Pid()
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := p.Detach(); err != nil {
		t.Fatal(err)
	}
	if p.State().Kind != Detached {
		t.Fatalf("state after detach %v", p.State())
	}

	// The target must be running on its own, neither stopped nor gone.
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
	if err != nil {
		t.Fatal(err)
	}
	if wpid != 0 {
		t.Fatalf("detached target changed state: %#x", uint32(ws))
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		t.Fatal(err)
	}
	reap(t, pid)
}

func TestMemoryAccessFailed(t *testing.T) {
	p := launch(t, "/bin/true")
	var te *TraceError
	if _, err := p.PeekWord(0); !errors.As(err, &te) || te.Kind != AccessFailed {
		t.Fatalf("PeekWord(0): %v", err)
	}
	te = nil
	if err := p.PokeWord(0, 0); !errors.As(err, &te) || te.Kind != AccessFailed {
		t.Fatalf("PokeWord(0): %v", err)
	}
	if s := p.State(); s.Kind != Stopped {
		t.Fatalf("state after failed access %v", s)
	}
}

func TestSharedProcessGroup(t *testing.T) {
	p := launch(t, "/bin/true")
	pgid, err := unix.Getpgid(p.Pid())
	if err != nil {
		t.Fatal(err)
	}
	if pgid != unix.Getpgrp() {
		t.Fatalf("target process group %d, debugger %d", pgid, unix.Getpgrp())
	}
}

func TestDeliverable(t *testing.T) {
	tests := []struct {
		sig  unix.Signal
		want bool
	}{
		{unix.SIGTRAP, false},
		{unix.SIGSTOP, false},
		{unix.SIGINT, false},
		{unix.SIGTTIN, false},
		{unix.SIGTTOU, false},
		{unix.SIGUSR1, true},
		{unix.SIGTERM, true},
		{unix.SIGSEGV, true},
	}
	for _, tc := range tests {
		if got := deliverable(tc.sig); got != tc.want {
			t.Errorf("deliverable(%v) = %v, want %v", tc.sig, got, tc.want)
		}
	}
}

func TestInterruptNotDelivered(t *testing.T) {
	p := launch(t, writeScript(t, "kill -INT $$; exit 3"))
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err := p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventGenericSignal || ev.Signal != unix.SIGINT {
		t.Fatalf("got %v, want SIGINT stop", ev)
	}
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err = p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventExited || ev.ExitCode != 3 {
		t.Fatalf("got %v, want exit 3", ev)
	}
}

func TestStepDeliversSignal(t *testing.T) {
	p := launch(t, writeScript(t, "kill -USR1 $$; exit 0"))
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}
	ev, err := p.WaitForEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventGenericSignal || ev.Signal != unix.SIGUSR1 {
		t.Fatalf("got %v, want SIGUSR1 stop", ev)
	}
	ev, err = p.Step()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventKilled || ev.Signal != unix.SIGUSR1 {
		t.Fatalf("got %v, want killed by SIGUSR1", ev)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	_, err := Launch(filepath.Join(t.TempDir(), "missing"), 0)
	var te *TraceError
	if !errors.As(err, &te) || te.Kind != LaunchFailed {
		t.Fatalf("got %v, want launch failure", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause not preserved: %v", err)
	}
}
