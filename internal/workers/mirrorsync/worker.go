package mirrorsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const serverTimeout = 2 * time.Minute

// Worker refreshes the local mirror of every active server on a cron
// schedule.
type Worker struct {
	servers     Servers
	syncer      Syncer
	schedule    string
	concurrency int
	logger      *slog.Logger
	cron        *cron.Cron

	// running guards against overlapping passes on slow panels.
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewWorker(servers Servers, syncer Syncer, schedule string, concurrency int, logger *slog.Logger) *Worker {
	return &Worker{
		servers:     servers,
		syncer:      syncer,
		schedule:    schedule,
		concurrency: max(concurrency, 1),
		logger:      logger,
		cron:        cron.New(),
	}
}

func (w *Worker) Name() string {
	return "mirrorsync"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		if !w.running.CompareAndSwap(false, true) {
			w.logger.Warn("Previous mirror sync still running, skipping")
			return
		}
		w.wg.Add(1)
		defer func() {
			w.running.Store(false)
			w.wg.Done()
		}()

		if _, err := w.RunOnce(context.Background()); err != nil {
			w.logger.Error("Mirror sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule mirror sync %q: %w", w.schedule, err)
	}

	w.logger.Info("Mirror sync scheduled", "schedule", w.schedule, "concurrency", w.concurrency)
	w.cron.Start()
	return nil
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping mirror sync worker")
	<-w.cron.Stop().Done()
	w.wg.Wait()
}

// Result summarizes one pass.
type Result struct {
	Servers int
	Failed  int
	Written int
}

// RunOnce syncs every active server with bounded concurrency. A failing
// server is logged and counted; it never stops the others.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	list, err := w.servers.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active servers: %w", err)
	}

	var (
		failed  atomic.Int64
		written atomic.Int64
		g       errgroup.Group
	)
	g.SetLimit(w.concurrency)
	for _, srv := range list {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, serverTimeout)
			defer cancel()

			stats, err := w.syncer.SyncServer(ctx, srv.ID)
			if err != nil {
				failed.Add(1)
				w.logger.Warn("Server mirror sync failed", "server", srv.Name, "error", err)
				return nil
			}
			written.Add(int64(stats.Inbounds + stats.Clients))
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Servers: len(list), Failed: int(failed.Load()), Written: int(written.Load())}
	w.logger.Info("Mirror sync pass completed", "servers", res.Servers, "failed", res.Failed, "rows_written", res.Written)
	return res, nil
}
