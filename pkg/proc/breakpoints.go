package proc

import "fmt"

// breakpointInstruction is the x86 INT3 opcode.
const breakpointInstruction = 0xCC

// Breakpoint represents a single software breakpoint. Stores the byte of
// data that originally was stored at that address.
type Breakpoint struct {
	ID           int
	Addr         uint64
	OriginalByte byte
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %#x", bp.ID, bp.Addr)
}

// patchWord replaces the least significant byte of word with b, keeping
// the other instruction bytes intact.
func patchWord(word uint64, b byte) uint64 {
	return (word &^ 0xff) | uint64(b)
}
