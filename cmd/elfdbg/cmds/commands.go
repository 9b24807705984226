// Package cmds implements the elfdbg command line.
package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/elfdbg/elfdbg/cmd/elfdbg/cmds/helphelpers"
	"github.com/elfdbg/elfdbg/pkg/config"
	"github.com/elfdbg/elfdbg/pkg/elfimage"
	"github.com/elfdbg/elfdbg/pkg/logflags"
	"github.com/elfdbg/elfdbg/pkg/proc"
	"github.com/elfdbg/elfdbg/pkg/terminal"
	"github.com/elfdbg/elfdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// disableASLR launches the target with address space randomization off.
	disableASLR bool
	// noSymbols skips printing the symbol table before launching.
	noSymbols bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const elfdbgCommandLongDesc = `elfdbg is a minimal debugger for 64-bit ELF executables.

elfdbg prints the symbol table of the executable, starts it under trace
control stopped before its first instruction, and lets you set software
breakpoints, continue, single step and inspect registers and memory.

The program runs with its own path as its only argument and inherits the
environment and the standard streams of elfdbg.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main elfdbg root command.
	rootCommand = &cobra.Command{
		Use:   "elfdbg [flags] <executable>",
		Short: "elfdbg is a debugger for 64-bit ELF executables.",
		Long:  elfdbgCommandLongDesc,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0], conf))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'elfdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'elfdbg help log').")
	rootCommand.PersistentFlags().BoolVarP(&disableASLR, "disable-aslr", "", false, "Disables address space randomization of the target.")
	rootCommand.PersistentFlags().BoolVarP(&noSymbols, "no-symbols", "", false, "Do not print the symbol table before starting the target.")

	// 'symbols' subcommand.
	symbolsCommand := &cobra.Command{
		Use:   "symbols <executable>",
		Short: "Prints the symbol table of an executable without running it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return symbolsCmd(cmd.OutOrStdout(), args[0])
		},
	}
	rootCommand.AddCommand(symbolsCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "elfdbg Debugger\n%s\n", version.ElfdbgVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	tracer		Log ptrace requests and wait statuses (default)
	elf		Log loading of the executable image
	terminal	Log the commands read from the operator

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func symbolsCmd(w io.Writer, path string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	img, err := elfimage.Load(path)
	if err != nil {
		return err
	}
	defer img.Close()
	return terminal.PrintSymbols(w, img)
}

func execute(path string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	img, err := elfimage.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer img.Close()

	if !noSymbols && conf.ShouldShowSymbols() {
		if err := terminal.PrintSymbols(os.Stdout, img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	syms, err := elfimage.NewSymbolTable(img, conf.SymbolCacheSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var flags proc.LaunchFlags
	if disableASLR || conf.DisableASLR {
		flags |= proc.LaunchDisableASLR
	}
	p, err := proc.Launch(path, flags)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			fmt.Fprintln(os.Stderr, "Error: could not trace the program, check /proc/sys/kernel/yama/ptrace_scope")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// The target shares our process group and sees the same SIGINT; the
	// tracer does not pass it on.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	term := terminal.New(p, img, syms, conf)
	status, err := term.Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
