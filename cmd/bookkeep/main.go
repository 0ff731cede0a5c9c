// Command bookkeep drives the local-first sync core: saving records with
// receipt images, editing taxonomy values, toggling offline mode and
// inspecting the offline outbox.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bookkeep/internal/cli"
	"bookkeep/internal/config"
	blog "bookkeep/internal/log"
	"bookkeep/internal/reconcile"
)

// session carries the wired core from the root pre-run to subcommands.
type session struct {
	cfg      *config.Config
	logger   *blog.Logger
	app      *cli.App
	progress bool
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "bookkeep",
		Short:         "Stage bookkeeping records and sync them with the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			s.cfg = cfg
			s.logger = cli.SetupLogger(cfg.LogLevel, blog.ComponentCLI)

			var opts []reconcile.Option
			if s.progress {
				out := cmd.ErrOrStderr()
				opts = append(opts, reconcile.WithProgress(func(st reconcile.Step) {
					fmt.Fprintf(out, "... %s\n", st)
				}))
			}
			app, err := cli.NewApp(cmd.Context(), cfg, s.logger, opts...)
			if err != nil {
				return err
			}
			s.app = app
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&s.progress, "progress", false, "print each save step as it starts")

	root.AddCommand(
		newSaveCmd(s),
		newTaxonomyCmd(s),
		newOfflineCmd(s),
		newImagesCmd(s),
		newOutboxCmd(s),
		newEventsCmd(s),
	)
	return root
}

// execute runs one command line and releases the core afterwards, also when
// the command failed.
func execute(ctx context.Context, args []string, stdout io.Writer) error {
	s := &session{}
	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)

	err := root.ExecuteContext(ctx)
	if s.app != nil {
		if cerr := s.app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
