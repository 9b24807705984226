package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return unix.PtraceCont(tid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP
func ptraceSingleStep(pid, sig int) error {
	_, _, e1 := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_SINGLESTEP), uintptr(pid), uintptr(0), uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// withASLRDisabled runs fn with the ADDR_NO_RANDOMIZE personality bit set,
// so that a child started by fn inherits it.
func withASLRDisabled(fn func()) {
	oldPersonality, _, err := syscall.Syscall(unix.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
	if err != syscall.Errno(0) {
		fn()
		return
	}
	newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
	syscall.Syscall(unix.SYS_PERSONALITY, newPersonality, 0, 0)
	defer syscall.Syscall(unix.SYS_PERSONALITY, oldPersonality, 0, 0)
	fn()
}
