package proc

import (
	"golang.org/x/sys/unix"
)

// getRegisters reads the register file. Registers has the same layout as
// unix.PtraceRegs, so the kernel structure converts directly.
func (dbp *Process) getRegisters() (*Registers, error) {
	var (
		regs Registers
		err  error
	)
	dbp.execPtraceFunc(func() { err = unix.PtraceGetRegs(dbp.pid, (*unix.PtraceRegs)(&regs)) })
	if err != nil {
		return nil, err
	}
	return &regs, nil
}

// setPC sets RIP to the value specified by 'pc'.
func (dbp *Process) setPC(pc uint64) error {
	regs, err := dbp.getRegisters()
	if err != nil {
		return err
	}
	regs.Rip = pc
	dbp.execPtraceFunc(func() { err = unix.PtraceSetRegs(dbp.pid, (*unix.PtraceRegs)(regs)) })
	return err
}
