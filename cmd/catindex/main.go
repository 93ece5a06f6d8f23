// Command catindex builds, persists and queries the temporal category
// indexes of an event catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dbPath     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "catindex",
		Short:        "Temporal index of events in a category tree",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (.json, .yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides store.path)")

	rootCmd.AddCommand(buildCmd(opts))
	rootCmd.AddCommand(queryCmd(opts))
	rootCmd.AddCommand(dayCmd(opts))
	rootCmd.AddCommand(moreCmd(opts))
	rootCmd.AddCommand(checkCmd(opts))
	rootCmd.AddCommand(dumpCmd(opts))
	rootCmd.AddCommand(statsCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))

	return rootCmd
}

// withApp opens the app, optionally restores the catalog and indexes, runs
// fn and closes everything.
func withApp(cmd *cobra.Command, opts *rootOptions, restore bool, fn func(a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()

	if restore {
		if err := a.load(ctx); err != nil {
			return err
		}
	}
	return fn(a)
}
