package proc

// Registers is a snapshot of the general purpose registers of a stopped
// process. The field layout follows the x86-64 user_regs_struct.
type Registers struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// Register is a named register value.
type Register struct {
	Name  string
	Value uint64
}

// PC returns the value of RIP register.
func (r *Registers) PC() uint64 {
	return r.Rip
}

// SP returns the value of RSP register.
func (r *Registers) SP() uint64 {
	return r.Rsp
}

// Slice returns the registers as a list of (name, value) pairs. When
// general is true only the general purpose registers are returned, in the
// order the operator dump prints them.
func (r *Registers) Slice(general bool) []Register {
	out := []Register{
		{"rax", r.Rax},
		{"rbx", r.Rbx},
		{"rcx", r.Rcx},
		{"rdx", r.Rdx},
		{"rdi", r.Rdi},
		{"rsi", r.Rsi},
		{"r8", r.R8},
		{"r9", r.R9},
		{"r10", r.R10},
		{"r11", r.R11},
		{"r12", r.R12},
		{"r13", r.R13},
		{"r14", r.R14},
		{"r15", r.R15},
		{"rbp", r.Rbp},
		{"rsp", r.Rsp},
		{"rip", r.Rip},
	}
	if general {
		return out
	}
	return append(out,
		Register{"rflags", r.Eflags},
		Register{"orig_rax", r.Orig_rax},
		Register{"cs", r.Cs},
		Register{"ss", r.Ss},
		Register{"ds", r.Ds},
		Register{"es", r.Es},
		Register{"fs", r.Fs},
		Register{"gs", r.Gs},
		Register{"fs_base", r.Fs_base},
		Register{"gs_base", r.Gs_base},
	)
}
