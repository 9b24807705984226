package proc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// wordSize is the granularity of PTRACE_PEEKDATA and PTRACE_POKEDATA.
const wordSize = 8

// PeekWord reads the word at addr in the address space of the stopped
// process.
func (dbp *Process) PeekWord(addr uint64) (uint64, error) {
	if err := dbp.expect("read memory", Stopped); err != nil {
		return 0, err
	}
	return dbp.peekWord(addr)
}

// PokeWord writes word at addr in the address space of the stopped
// process.
func (dbp *Process) PokeWord(addr, word uint64) error {
	if err := dbp.expect("write memory", Stopped); err != nil {
		return err
	}
	return dbp.pokeWord(addr, word)
}

func (dbp *Process) peekWord(addr uint64) (uint64, error) {
	var (
		buf [wordSize]byte
		n   int
		err error
	)
	dbp.execPtraceFunc(func() { n, err = unix.PtracePeekData(dbp.pid, uintptr(addr), buf[:]) })
	if err == nil && n != wordSize {
		err = fmt.Errorf("short read of %d bytes", n)
	}
	if err != nil {
		return 0, &TraceError{Kind: AccessFailed, Op: fmt.Sprintf("read memory at %#x", addr), Pid: dbp.pid, Err: err}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (dbp *Process) pokeWord(addr, word uint64) error {
	var (
		buf [wordSize]byte
		n   int
		err error
	)
	binary.LittleEndian.PutUint64(buf[:], word)
	dbp.execPtraceFunc(func() { n, err = unix.PtracePokeData(dbp.pid, uintptr(addr), buf[:]) })
	if err == nil && n != wordSize {
		err = fmt.Errorf("short write of %d bytes", n)
	}
	if err != nil {
		return &TraceError{Kind: AccessFailed, Op: fmt.Sprintf("write memory at %#x", addr), Pid: dbp.pid, Err: err}
	}
	return nil
}
