package proc

// SetBreakpoint patches the instruction at addr with a trap. Only the
// first byte of the word at addr changes; the original byte is kept in the
// returned Breakpoint so that ClearBreakpoint can restore it exactly.
func (dbp *Process) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := dbp.expect("set breakpoint", Stopped); err != nil {
		return nil, err
	}
	if _, ok := dbp.breakpoints[addr]; ok {
		return nil, BreakpointExistsError{addr}
	}
	word, err := dbp.peekWord(addr)
	if err != nil {
		return nil, err
	}
	if err := dbp.pokeWord(addr, patchWord(word, breakpointInstruction)); err != nil {
		return nil, err
	}
	dbp.breakpointIDCounter++
	bp := &Breakpoint{
		ID:           dbp.breakpointIDCounter,
		Addr:         addr,
		OriginalByte: byte(word),
	}
	dbp.breakpoints[addr] = bp
	dbp.log.Debugf("set %s (original byte %#02x)", bp, bp.OriginalByte)
	return bp, nil
}

// ClearBreakpoint restores the original byte at addr and forgets the
// breakpoint.
func (dbp *Process) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := dbp.expect("clear breakpoint", Stopped); err != nil {
		return nil, err
	}
	bp, ok := dbp.breakpoints[addr]
	if !ok {
		return nil, NoBreakpointError{addr}
	}
	if err := dbp.restore(bp); err != nil {
		return nil, err
	}
	delete(dbp.breakpoints, addr)
	dbp.log.Debugf("cleared %s", bp)
	return bp, nil
}

// restore writes the original byte of bp back into memory. The rest of the
// word is re-read so that nearby breakpoints or code changes survive.
func (dbp *Process) restore(bp *Breakpoint) error {
	word, err := dbp.peekWord(bp.Addr)
	if err != nil {
		return err
	}
	return dbp.pokeWord(bp.Addr, patchWord(word, bp.OriginalByte))
}

// trappedBreakpoint returns the breakpoint the process just executed, if
// the last stop was a trap raised by one of our INT3 instructions.
func (dbp *Process) trappedBreakpoint() (*Breakpoint, error) {
	if !dbp.trapped || len(dbp.breakpoints) == 0 {
		return nil, nil
	}
	regs, err := dbp.Registers()
	if err != nil {
		return nil, err
	}
	bp, ok := dbp.breakpoints[regs.PC()-1]
	if !ok {
		return nil, nil
	}
	return bp, nil
}

// stepOverBreakpoint rewinds the program counter to bp, executes the
// original instruction and puts the trap back. The returned event is the
// result of the single step; it is not recorded.
func (dbp *Process) stepOverBreakpoint(bp *Breakpoint) (Event, error) {
	if err := dbp.setPC(bp.Addr); err != nil {
		return Event{}, &TraceError{Kind: AccessFailed, Op: "rewind pc", Pid: dbp.pid, Err: err}
	}
	dbp.regs = nil
	if err := dbp.restore(bp); err != nil {
		return Event{}, err
	}
	ev, err := dbp.singleStep(0)
	if err != nil {
		return Event{}, err
	}
	if ev.Terminal() {
		return ev, nil
	}
	word, err := dbp.peekWord(bp.Addr)
	if err != nil {
		return Event{}, err
	}
	if err := dbp.pokeWord(bp.Addr, patchWord(word, breakpointInstruction)); err != nil {
		return Event{}, err
	}
	return ev, nil
}
