// Package proc is a low-level package that provides methods to manipulate
// the process being debugged, and methods to read and write from the
// virtual memory of the process.
//
// A Process is created by Launch and is owned by a single caller for the
// whole session. Every ptrace(2) request is issued from one goroutine
// locked to its OS thread, because the kernel only accepts requests from
// the thread that became the tracer.
//
// What follows is a breakdown of the division of responsibility by file:
//
//   - process_linux.go - launching, waiting, resuming and detaching.
//   - event.go - classification of wait statuses into debugger events.
//   - state.go - the lifecycle states of a traced process.
//   - breakpoints(_linux).go - setting and clearing software breakpoints.
//   - registers(_linux_*).go - register snapshots.
//   - mem_linux.go - word sized memory access.
//   - ptrace_linux.go - ptrace stubs for missing x/sys functionality.
//   - errors.go - error types returned by the package.
package proc
