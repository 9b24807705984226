package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/elfdbg/elfdbg/pkg/config"
	"github.com/elfdbg/elfdbg/pkg/elfimage"
	"github.com/elfdbg/elfdbg/pkg/logflags"
	"github.com/elfdbg/elfdbg/pkg/proc"
)

const (
	historyFile                 string = ".elfdbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Target is the traced process driven by the terminal. It is implemented
// by *proc.Process.
type Target interface {
	Pid() int
	State() proc.State
	Registers() (*proc.Registers, error)
	PeekWord(addr uint64) (uint64, error)
	Resume() error
	Step() (proc.Event, error)
	WaitForEvent(ctx context.Context) (proc.Event, error)
	SetBreakpoint(addr uint64) (*proc.Breakpoint, error)
	ClearBreakpoint(addr uint64) (*proc.Breakpoint, error)
	Breakpoints() []*proc.Breakpoint
	BreakpointAt(addr uint64) (*proc.Breakpoint, bool)
	Detach() error
	Kill() error
}

// lineReader reads operator input, *liner.State in production.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

type historyKeeper interface {
	ReadHistory(r io.Reader) (int, error)
	WriteHistory(w io.Writer) (int, error)
}

// Term represents the operator terminal of a debugging session.
type Term struct {
	target Target
	img    *elfimage.Image
	syms   *elfimage.SymbolTable
	conf   *config.Config
	prompt string
	line   lineReader
	cmds   *Commands
	color  bool
	stdout io.Writer
	stderr io.Writer

	// ctx is cancelled when the operator interrupts the session.
	ctx context.Context
	log logflags.Logger
}

// New returns a new Term driving target. img and syms describe the
// executable the target was launched from; syms may be nil.
func New(target Target, img *elfimage.Image, syms *elfimage.SymbolTable, conf *config.Config) *Term {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	var w io.Writer = os.Stdout
	color := false
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if !dumb && isatty.IsTerminal(os.Stdout.Fd()) {
		w = colorable.NewColorableStdout()
		color = true
	}

	t := newTerm(target, img, syms, conf, line, w, os.Stderr)
	t.color = color
	line.SetWordCompleter(t.complete)
	return t
}

func newTerm(target Target, img *elfimage.Image, syms *elfimage.SymbolTable, conf *config.Config, line lineReader, stdout, stderr io.Writer) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if (conf.RegisterColor > ansiWhite &&
		conf.RegisterColor < ansiBrBlack) ||
		conf.RegisterColor < ansiBlack ||
		conf.RegisterColor > ansiBrWhite {
		conf.RegisterColor = ansiBlue
	}

	prompt := "(elfdbg) "
	if conf.Prompt != "" {
		prompt = conf.Prompt
	}

	return &Term{
		target: target,
		img:    img,
		syms:   syms,
		conf:   conf,
		prompt: prompt,
		line:   line,
		cmds:   cmds,
		stdout: stdout,
		stderr: stderr,
		ctx:    context.Background(),
		log:    logflags.TerminalLogger(),
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run drives the session until the target goes away or the operator
// quits, and returns the exit status for the debugger. Cancelling ctx
// interrupts the session: the target is detached and Run returns 0.
func (t *Term) Run(ctx context.Context) (int, error) {
	defer t.Close()
	t.ctx = ctx

	t.readHistory()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if err := t.printStop("Stopped at entry"); err != nil {
		fmt.Fprintf(t.stderr, "Command failed: %s\n", err)
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			switch {
			case err == io.EOF:
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			case errors.Is(err, liner.ErrPromptAborted), ctx.Err() != nil:
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %w", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			var ere ExitRequestError
			if errors.As(err, &ere) {
				if ere.Detach {
					return t.handleExit()
				}
				t.writeHistory()
				return ere.Status, nil
			}
			if ctx.Err() != nil {
				return t.handleExit()
			}
			var pe proc.ProcessExitedError
			if errors.As(err, &pe) {
				fmt.Fprintf(t.stderr, "Process %d has exited with status %d\n", pe.Pid, pe.Status)
				t.writeHistory()
				return 0, nil
			}
			fmt.Fprintf(t.stderr, "Command failed: %s\n", err)
		}
	}
}

type promptResult struct {
	line string
	err  error
}

// promptForInput reads the next command. It returns early with the
// context error when the session is interrupted while waiting.
func (t *Term) promptForInput() (string, error) {
	ch := make(chan promptResult, 1)
	go func() {
		l, err := t.line.Prompt(t.prompt)
		ch <- promptResult{l, err}
	}()

	var r promptResult
	select {
	case r = <-ch:
	case <-t.ctx.Done():
		return "", t.ctx.Err()
	}
	if r.err != nil {
		return "", r.err
	}

	l := strings.TrimSuffix(r.line, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return l, nil
}

// handleExit detaches from a live target so that it keeps running
// without the debugger.
func (t *Term) handleExit() (int, error) {
	t.writeHistory()

	if t.target.State().Terminal() {
		return 0, nil
	}
	pid := t.target.Pid()
	if err := t.target.Detach(); err != nil {
		var pe proc.ProcessExitedError
		if errors.As(err, &pe) {
			fmt.Fprintf(t.stdout, "Process %d has exited with status %d\n", pe.Pid, pe.Status)
			return 0, nil
		}
		return 1, fmt.Errorf("could not detach from %d: %w", pid, err)
	}
	fmt.Fprintf(t.stdout, "Detached from %d\n", pid)
	return 0, nil
}

func (t *Term) readHistory() {
	h, ok := t.line.(historyKeeper)
	if !ok {
		return
	}
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stderr, "Unable to load history file: %v.\n", err)
		return
	}
	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}
	h.ReadHistory(f)
	f.Close()
}

func (t *Term) writeHistory() {
	h, ok := t.line.(historyKeeper)
	if !ok {
		return
	}
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
		if _, err := h.WriteHistory(f); err != nil {
			fmt.Fprintln(t.stderr, "readline history error:", err)
		}
		f.Close()
	}
}

// complete is the liner word completer: command names first, then symbol
// names for the commands that take a location.
func (t *Term) complete(line string, pos int) (head string, completions []string, tail string) {
	start := strings.LastIndex(line[:pos], " ")
	if start < 0 {
		match := strings.ToLower(line[:pos])
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, match) {
					completions = append(completions, alias)
				}
			}
		}
		return "", completions, line[pos:]
	}

	head, match, tail := line[:start+1], line[start+1:pos], line[pos:]
	fields := strings.Fields(line[:start])
	if len(fields) == 0 {
		return head, nil, tail
	}
	cmd := t.cmds.find(fields[0])
	if cmd == nil {
		return head, nil, tail
	}
	switch {
	case cmd.completeSymbols && t.syms != nil:
		completions = t.syms.Complete(match)
	case cmd.completeCommands:
		for _, c := range t.cmds.cmds {
			if strings.HasPrefix(c.aliases[0], match) {
				completions = append(completions, c.aliases[0])
			}
		}
	}
	return head, completions, tail
}

// colorize wraps s in the register color escape when writing to a
// terminal.
func (t *Term) colorize(s string) string {
	if !t.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, t.conf.RegisterColor) + s + terminalResetEscapeCode
}
