package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tagbatch/tagbatch/internal/persistence"
	"github.com/tagbatch/tagbatch/internal/tagfile"
	"github.com/tagbatch/tagbatch/internal/tui"
)

var errNoFiles = errors.New("no audio files found")

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan DIR",
		Short: "Read the tags of every audio file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openStore(ctx, false); err != nil {
				return err
			}
			defer a.closeStore()

			reads, res, err := a.readDir(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, tui.TrackTable(tagfile.Tracks(reads)))
			return a.report(res, tagfile.ReadSummary(tagfile.AsTasks(reads), res.batch.Dir))
		},
	}
}

// readDir runs a read batch over the audio files of dir.
func (a *app) readDir(ctx context.Context, dir string) ([]*tagfile.ReadTask, batchResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, batchResult{}, fmt.Errorf("resolving %s: %w", dir, err)
	}
	paths, err := tagfile.Scan(abs, a.cfg.Extensions)
	if err != nil {
		return nil, batchResult{}, err
	}
	if len(paths) == 0 {
		return nil, batchResult{}, fmt.Errorf("%w in %s", errNoFiles, abs)
	}

	reads := tagfile.ReadTasks(paths, tagfile.NewFileLocks())
	res, err := a.runBatch(ctx, persistence.KindRead, abs, "Reading tags", tagfile.AsTasks(reads), paths)
	if err != nil {
		return nil, res, err
	}
	return reads, res, nil
}

// report prints the batch summary and turns failures into a command error.
func (a *app) report(res batchResult, headline string) error {
	fmt.Fprint(a.out, tui.Summary(headline, res.snapshots))
	if res.cancelled {
		log.Printf("WARNING: %s batch %s was cancelled", res.batch.Kind, res.batch.ID)
	}
	if n := res.failed(); n > 0 {
		return fmt.Errorf("%d task(s) failed or skipped, see: tagbatch history --failures %s", n, res.batch.ID)
	}
	return nil
}
