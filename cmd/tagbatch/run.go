package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tagbatch/tagbatch/internal/events"
	"github.com/tagbatch/tagbatch/internal/persistence"
	"github.com/tagbatch/tagbatch/internal/scheduler"
	"github.com/tagbatch/tagbatch/internal/tui"
)

// batchResult is the outcome of one manager run.
type batchResult struct {
	batch     *persistence.Batch
	snapshots []scheduler.Snapshot
	cancelled bool
}

// failed returns the number of tasks that did not finish OK.
func (r batchResult) failed() int {
	n := 0
	for _, s := range r.snapshots {
		if s.Status != scheduler.TaskOK {
			n++
		}
	}
	return n
}

// runBatch runs tasks to completion, drawing progress or logging it, and
// records the batch. paths[i] is the file task i works on.
func (a *app) runBatch(ctx context.Context, kind, dir, title string, tasks []scheduler.Task, paths []string) (batchResult, error) {
	bus := events.NewBus()
	defer bus.Close()

	mcfg, err := a.cfg.ManagerConfig(bus)
	if err != nil {
		return batchResult{}, err
	}
	mgr, err := scheduler.NewManager(tasks, mcfg)
	if err != nil {
		return batchResult{}, fmt.Errorf("creating %s batch: %w", kind, err)
	}

	res := batchResult{batch: persistence.NewBatch(kind, dir)}
	if a.store != nil {
		if err := a.store.SaveBatch(ctx, res.batch); err != nil {
			log.Printf("WARNING: recording batch: %v", err)
		}
	}

	if a.cfg.UI.Headless {
		res.cancelled, err = runHeadless(ctx, mgr, bus, a.cfg.PollInterval())
	} else {
		res.cancelled, err = tui.RunProgress(ctx, mgr, tui.ProgressOptions{
			Title:        title,
			Interval:     a.cfg.PollInterval(),
			MaxMessages:  a.cfg.MessageCount(),
			EnableCancel: a.cfg.UI.EnableCancel,
			Events:       bus.Subscribe(events.TopicTask, 0),
		})
	}

	// Recorded even when ctx was cancelled
	res.snapshots = mgr.Snapshots()
	res.batch.Cancelled = res.cancelled
	if a.store != nil {
		results := persistence.ResultsFrom(res.batch.ID, paths, res.snapshots)
		if ferr := a.store.FinishBatch(context.WithoutCancel(ctx), res.batch, results); ferr != nil {
			log.Printf("WARNING: recording batch results: %v", ferr)
		}
	}
	return res, err
}

// runHeadless polls mgr until it is done while a second goroutine logs task
// events. Cancelling ctx cancels the batch.
func runHeadless(ctx context.Context, mgr *scheduler.Manager, bus *events.Bus, interval time.Duration) (bool, error) {
	sub := bus.SubscribeAll(0)
	g := new(errgroup.Group)

	g.Go(func() error {
		defer bus.Close()
		mgr.Wait(ctx, interval)
		return nil
	})
	g.Go(func() error {
		for ev := range sub {
			logEvent(ev)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return false, err
	}
	return mgr.Cancelled(), nil
}

func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskFailedEvent:
		log.Printf("ERROR: %s: %s", e.Message, e.Err)
	case events.TaskCompletedEvent:
		log.Printf("done %s (%s)", e.Message, e.Duration.Round(time.Millisecond))
	case events.BatchStoppedEvent:
		log.Printf("WARNING: batch stopped on %s (%s), %d task(s) were running", e.Reason, e.Policy, e.Stopped)
	}
}
