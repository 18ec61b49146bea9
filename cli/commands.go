package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/krehermann/bytevm/api"
	"github.com/krehermann/bytevm/asm"
	"github.com/krehermann/bytevm/config"
	"github.com/krehermann/bytevm/store"
	"github.com/krehermann/bytevm/vm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a bytecode file until it halts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFile(cmd.Context(), args[0])
		},
	}
}

func (a *app) runFile(ctx context.Context, path string) error {
	code, err := vm.LoadFile(path)
	if err != nil {
		return &usageError{err}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(a.stdout)
	opts := append(a.cfg.VMOpts(),
		vm.OutputOpt(out),
		vm.LoggerOpt(a.logger),
	)
	runErr := vm.NewVM(code, opts...).Run(ctx)
	if err := out.Flush(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (a *app) newAsmCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "asm <source>",
		Short: "Assemble a source file into bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return &usageError{err}
			}
			code, err := asm.Assemble(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if output == "" || output == "-" {
				_, err = a.stdout.Write(code)
				return err
			}
			if err := os.WriteFile(output, code, 0o644); err != nil {
				return err
			}
			a.logger.Info("assembled",
				zap.String("source", args[0]),
				zap.String("output", output),
				zap.Int("size", len(code)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "bytecode output file, stdout when empty")
	return cmd
}

func (a *app) newDisCommand() *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "dis <file>",
		Short: "Disassemble a bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := vm.LoadFile(args[0])
			if err != nil {
				return &usageError{err}
			}
			return asm.Fprint(a.stdout, code, !noColor && !color.NoColor)
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func (a *app) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP execution API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			programs := store.NewPrograms(store.WithLogger(a.logger))
			defer programs.Close()
			if err := restorePrograms(programs, a.cfg.SnapshotFile); err != nil {
				return err
			}
			defer func() {
				if err := savePrograms(programs, a.cfg.SnapshotFile); err != nil {
					a.logger.Error("save snapshot", zap.Error(err))
				}
			}()

			srv, err := api.NewServer(api.ServerConfig{
				ListenerAddr: a.cfg.ListenAddr,
				Logger:       a.logger,
				VM:           a.cfg,
			}, programs)
			if err != nil {
				return &usageError{err}
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("listen", ":8080", "listen address")
	cmd.Flags().String("snapshot", "", "file the program store is restored from and saved to")
	_ = a.v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag(config.KeySnapshotFile, cmd.Flags().Lookup("snapshot"))
	return cmd
}

func restorePrograms(programs *store.Programs, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return programs.Restore(store.NewGobSnapshotDecoder(f))
}

func savePrograms(programs *store.Programs, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := programs.Save(store.NewGobSnapshotEncoder(f)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
