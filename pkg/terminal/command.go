// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/elfdbg/elfdbg/pkg/proc"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc

	// completeSymbols enables symbol name completion for the arguments.
	completeSymbols bool
	// completeCommands enables command name completion for the arguments.
	completeCommands bool
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the debugger terminal.
type Commands struct {
	cmds []command
}

// ExitRequestError is returned by a command to end the session.
type ExitRequestError struct {
	// Status is the exit status of the debugger.
	Status int
	// Detach asks for the target to be detached first.
	Detach bool
}

func (ere ExitRequestError) Error() string {
	return ""
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, completeCommands: true, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, completeSymbols: true, helpMsg: `Sets a breakpoint.

	break <location>

A location is a symbol name, a symbol name plus an offset (main+0x10) or
an address (0x401000). The breakpoint replaces the first byte of the
instruction at the location with a trap.

See also: "help clear" and "help breakpoints"`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clear, completeSymbols: true, helpMsg: `Deletes breakpoint.

	clear <location>

The original instruction byte is written back.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Run until breakpoint or program termination.

	continue

An empty line also continues.`},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: step, helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [-a]

Argument -a shows the segment and control registers too.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, completeSymbols: true, helpMsg: `Examine raw memory at the given address.

	examinemem <location> [count]

Prints count words (default 1) of 8 bytes starting at location.`},
		{aliases: []string{"symbols", "sym"}, group: dataCmds, cmdFn: symbolsCmd, completeSymbols: true, helpMsg: `Print the symbols whose name starts with prefix.

	symbols [prefix]`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Detach from the program and exit the debugger.

	exit

The program keeps running without the debugger.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

func (c *Commands) find(cmdstr string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// An empty command string continues the program.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return cont
	}
	if cmd := c.find(cmdstr); cmd != nil {
		return cmd.cmdFn
	}
	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	t.log.Debugf("command %q args %q", cmdname, args)
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		if cmd := c.find(args); cmd != nil {
			fmt.Fprintln(t.stdout, cmd.helpMsg)
			return nil
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits the arguments of a command with shell quoting rules.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// parseLocation resolves a location argument to an address. The second
// result is true when the address comes from the symbol table.
func (t *Term) parseLocation(loc string) (uint64, bool, error) {
	if addr, err := strconv.ParseUint(loc, 0, 64); err == nil {
		return addr, false, nil
	}
	name, off := loc, uint64(0)
	if i := strings.LastIndex(loc, "+"); i > 0 {
		if n, err := strconv.ParseUint(loc[i+1:], 0, 64); err == nil {
			name, off = loc[:i], n
		}
	}
	if t.syms == nil {
		return 0, false, fmt.Errorf("no symbol table, location %q must be an address", loc)
	}
	sym, ok := t.syms.Lookup(name)
	if !ok {
		return 0, false, fmt.Errorf("could not find symbol %q", name)
	}
	if sym.Value == 0 {
		return 0, false, fmt.Errorf("symbol %q is not defined in %s", name, t.imagePath())
	}
	return sym.Value + off, true, nil
}

func (t *Term) imagePath() string {
	if t.img == nil {
		return "the executable"
	}
	return t.img.Path
}

// formatAddr prints addr followed by the symbol containing it, if any.
func (t *Term) formatAddr(addr uint64) string {
	if t.syms != nil {
		if sym, off, ok := t.syms.Resolve(addr); ok {
			if off == 0 {
				return fmt.Sprintf("%#x <%s>", addr, sym.Name)
			}
			return fmt.Sprintf("%#x <%s+%#x>", addr, sym.Name, off)
		}
	}
	return fmt.Sprintf("%#x", addr)
}

func cont(t *Term, args string) error {
	if err := t.target.Resume(); err != nil {
		return err
	}
	ev, err := t.target.WaitForEvent(t.ctx)
	if err != nil {
		return err
	}
	return t.handleEvent(ev, false)
}

func step(t *Term, args string) error {
	ev, err := t.target.Step()
	if err != nil {
		return err
	}
	return t.handleEvent(ev, true)
}

func breakpoint(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(argv) != 1 {
		return fmt.Errorf("wrong number of arguments to break")
	}
	addr, fromSymbol, err := t.parseLocation(argv[0])
	if err != nil {
		return err
	}
	bp, err := t.target.SetBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d set at %s\n", bp.ID, t.formatAddr(bp.Addr))
	if fromSymbol && t.img != nil && t.img.Type == elf.ET_DYN {
		fmt.Fprintln(t.stderr, "Warning: position independent executable, symbol addresses are not relocated")
	}
	return nil
}

func clear(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(argv) != 1 {
		return fmt.Errorf("wrong number of arguments to clear")
	}
	addr, _, err := t.parseLocation(argv[0])
	if err != nil {
		return err
	}
	bp, err := t.target.ClearBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d cleared at %s\n", bp.ID, t.formatAddr(bp.Addr))
	return nil
}

func breakpoints(t *Term, args string) error {
	bps := t.target.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints.")
		return nil
	}
	for _, bp := range bps {
		fmt.Fprintf(t.stdout, "Breakpoint %d at %s (original byte %#02x)\n", bp.ID, t.formatAddr(bp.Addr), bp.OriginalByte)
	}
	return nil
}

func regs(t *Term, args string) error {
	all := false
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("unknown argument %q to regs", args)
	}
	r, err := t.target.Registers()
	if err != nil {
		return err
	}
	t.printRegisters(r, all)
	return nil
}

const maxExamineWords = 512

func examineMemoryCmd(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(argv) < 1 || len(argv) > 2 {
		return fmt.Errorf("wrong number of arguments to examinemem")
	}
	addr, _, err := t.parseLocation(argv[0])
	if err != nil {
		return err
	}
	count := 1
	if len(argv) == 2 {
		count, err = strconv.Atoi(argv[1])
		if err != nil || count <= 0 || count > maxExamineWords {
			return fmt.Errorf("count must be a number between 1 and %d", maxExamineWords)
		}
	}
	for i := 0; i < count; i++ {
		a := addr + uint64(i)*8
		word, err := t.target.PeekWord(a)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%s: 0x%016x\n", t.formatAddr(a), word)
	}
	return nil
}

func symbolsCmd(t *Term, args string) error {
	if t.syms == nil {
		return fmt.Errorf("no symbol table loaded")
	}
	for _, name := range t.syms.Complete(args) {
		sym, _ := t.syms.Lookup(name)
		fmt.Fprintf(t.stdout, "%016x %s\n", sym.Value, name)
	}
	return nil
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{Detach: true}
}

// signalMessages explains the signals that end the session.
var signalMessages = map[proc.SignalKind]string{
	proc.SegmentationFault:      "Segmentation Fault",
	proc.BusError:               "Memory Fault",
	proc.FloatingPointException: "Floating point issue",
	proc.ChildStatusChange:      "Child exited",
	proc.AbortNotification:      "SIGABRT received",
}

// handleEvent reports ev to the operator. Events that end the session
// are returned as an ExitRequestError.
func (t *Term) handleEvent(ev proc.Event, stepping bool) error {
	pid := t.target.Pid()
	switch ev.Kind {
	case proc.EventExited:
		fmt.Fprintf(t.stdout, "Process %d has exited with status %d\n", pid, ev.ExitCode)
		return ExitRequestError{}
	case proc.EventKilled:
		fmt.Fprintf(t.stdout, "Process %d was killed by %s\n", pid, proc.SignalName(ev.Signal))
		return ExitRequestError{}
	case proc.EventFatalSignal:
		fmt.Fprintf(t.stdout, "Stopped by signal %s\n", proc.SignalName(ev.Signal))
		fmt.Fprintf(t.stderr, "Error: %s\n", signalMessages[ev.SignalKind()])
		// The faulting instruction would fault again, no point resuming.
		if err := t.target.Kill(); err != nil {
			t.log.Errorf("could not kill %d: %v", pid, err)
		}
		return ExitRequestError{Status: 1}
	case proc.EventBenignSignal:
		fmt.Fprintf(t.stdout, "Stopped by signal %s: %s\n", proc.SignalName(ev.Signal), signalMessages[ev.SignalKind()])
		return ExitRequestError{Detach: true}
	}

	r, err := t.target.Registers()
	if err != nil {
		return err
	}
	switch {
	case ev.Kind == proc.EventGenericSignal:
		fmt.Fprintf(t.stdout, "Stopped by signal %s at %s\n", proc.SignalName(ev.Signal), t.formatAddr(r.PC()))
	case stepping:
		fmt.Fprintf(t.stdout, "Stepped to %s\n", t.formatAddr(r.PC()))
	default:
		if bp, ok := t.target.BreakpointAt(r.PC() - 1); ok {
			fmt.Fprintf(t.stdout, "Hit breakpoint %d at %s\n", bp.ID, t.formatAddr(bp.Addr))
		} else {
			fmt.Fprintf(t.stdout, "Trap at %s\n", t.formatAddr(r.PC()))
		}
	}
	t.printRegisters(r, false)
	return nil
}

// printStop reports the current stop of the target with a register dump.
func (t *Term) printStop(what string) error {
	r, err := t.target.Registers()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s at %s\n", what, t.formatAddr(r.PC()))
	t.printRegisters(r, false)
	return nil
}

func (t *Term) printRegisters(r *proc.Registers, all bool) {
	for _, reg := range r.Slice(!all) {
		name := "%" + reg.Name + ":"
		fmt.Fprintf(t.stdout, "%s%s 0x%016x", t.colorize(name), strings.Repeat(" ", 10-len(name)), reg.Value)
		if reg.Name == "rip" && t.syms != nil {
			if sym, off, ok := t.syms.Resolve(reg.Value); ok {
				fmt.Fprintf(t.stdout, " <%s+%#x>", sym.Name, off)
			}
		}
		fmt.Fprintln(t.stdout)
	}
}
