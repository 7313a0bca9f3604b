package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/tagbatch/tagbatch/internal/config"
	"github.com/tagbatch/tagbatch/internal/persistence"
)

type rootOptions struct {
	configPath string
	dbPath     string
	threads    int
	noTUI      bool
}

// app holds what every subcommand needs after flags and config are resolved.
type app struct {
	cfg   *config.Config
	store persistence.Store // Nil when the history database is unavailable
	out   io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	cmd := &cobra.Command{
		Use:           "tagbatch",
		Short:         "Read and write FLAC tags for a directory in parallel batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "project config file (default .tagbatch/config.json)")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "history database (default ~/.tagbatch/history.db)")
	cmd.PersistentFlags().IntVar(&opts.threads, "threads", 0, "concurrently running tasks (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.noTUI, "no-tui", false, "log progress instead of drawing a progress dialog")

	cmd.AddCommand(newScanCmd(a), newTagCmd(a), newHistoryCmd(a), newConfigCmd(opts))
	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadDefault(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.threads > 0 {
		cfg.Threads = opts.threads
	}
	if opts.noTUI {
		cfg.UI.Headless = true
	}
	if opts.dbPath != "" {
		cfg.DatabasePath = opts.dbPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the history database. Batches still run without it.
func (a *app) openStore(ctx context.Context, required bool) error {
	if a.store != nil {
		return nil
	}
	store, err := persistence.NewSQLiteStore(ctx, a.cfg.DatabasePath)
	if err != nil {
		if required {
			return fmt.Errorf("opening history: %w", err)
		}
		log.Printf("WARNING: batch history disabled: %v", err)
		return nil
	}
	a.store = persistence.NewResilientStore(store, persistence.DefaultRetryConfig())
	return nil
}

func (a *app) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		log.Printf("WARNING: closing history: %v", err)
	}
	a.store = nil
}
