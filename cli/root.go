// Package cli is the bytevm command line: it loads programs from disk, runs
// them and maps the outcome to a process exit code.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/krehermann/bytevm/config"
	"github.com/krehermann/bytevm/vm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ExitOK    = 0
	ExitUsage = 1
	ExitFault = 2
)

// usageError marks failures that happen before a program runs: bad
// arguments, unreadable files, invalid configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command line with args and returns the exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	// cobra falls back to os.Args for nil
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	red := color.New(color.FgRed)
	var f *vm.Fault
	if errors.As(err, &f) {
		red.Fprintf(stderr, "fault: %s at %s: %s\n", f.Kind(), f.Location(), f.Err)
		return ExitFault
	}
	red.Fprintf(stderr, "error: %s\n", err)
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "Usage: %s <file path>\n", root.Name())
	}
	return ExitUsage
}

func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
	}
	config.SetDefaults(a.v)

	var configFile string
	root := &cobra.Command{
		Use:           "bytevm [file]",
		Short:         "Run programs for the bytevm stack machine",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(configFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &usageError{errors.New("missing program file")}
			}
			return a.runFile(cmd.Context(), args[0])
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	flags.Int("stack-size", vm.DefaultStackSize, "operand stack capacity")
	flags.Int("step-limit", 0, "maximum instructions to execute, 0 for no limit")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	_ = a.v.BindPFlag(config.KeyStackSize, flags.Lookup("stack-size"))
	_ = a.v.BindPFlag(config.KeyStepLimit, flags.Lookup("step-limit"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(
		a.newRunCommand(),
		a.newAsmCommand(),
		a.newDisCommand(),
		a.newServeCommand(),
	)
	return root
}

func (a *app) setup(configFile string) error {
	cfg, err := config.Load(a.v, configFile)
	if err != nil {
		return &usageError{err}
	}
	a.cfg = cfg

	logger, err := cfg.Logger()
	if err != nil {
		return &usageError{err}
	}
	a.logger = logger
	zap.ReplaceGlobals(logger)
	return nil
}
