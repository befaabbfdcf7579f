package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kurut-provisioner/internal/panel"
)

const checkTimeout = 10 * time.Second

var panelUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "panel_up",
	Help: "Whether the last login to the panel succeeded.",
}, []string{"server"})

type serverStatus struct {
	isUp         bool
	lastChange   time.Time
	failureCount int
}

// Worker logs in to every active panel on an interval and reports up/down
// transitions.
type Worker struct {
	servers  Servers
	panels   Panels
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	statusMu sync.RWMutex
	statuses map[int64]*serverStatus

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWorker(servers Servers, panels Panels, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		servers:  servers,
		panels:   panels,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[int64]*serverStatus),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "healthcheck"
}

func (w *Worker) Start() error {
	w.logger.Info("Starting panel health check worker", "interval", w.interval)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in healthcheck worker goroutine", "panic", r)
			}
		}()
		w.run()
	}()
	return nil
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping panel health check worker")
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	ctx := context.Background()
	w.CheckServers(ctx)

	for {
		select {
		case <-ticker.C:
			w.CheckServers(ctx)
		case <-w.stopCh:
			return
		}
	}
}

// CheckServers runs one pass over the active servers.
func (w *Worker) CheckServers(ctx context.Context) {
	list, err := w.servers.ListActive(ctx)
	if err != nil {
		w.logger.Error("Failed to list active servers", "error", err)
		return
	}

	w.logger.Debug("Checking panel health", "count", len(list))
	for _, srv := range list {
		err := w.check(ctx, srv.Panel())
		w.updateStatus(srv.ID, srv.Name, err)
	}
}

func (w *Worker) check(ctx context.Context, srv panel.Server) error {
	c, err := w.panels.Open(srv)
	if err != nil {
		return fmt.Errorf("open panel client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Ping(ctx)
}

func (w *Worker) updateStatus(serverID int64, name string, checkErr error) {
	isUp := checkErr == nil
	up := 0.0
	if isUp {
		up = 1
	}
	panelUp.WithLabelValues(name).Set(up)

	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	now := w.now()
	prev, exists := w.statuses[serverID]
	if !exists {
		prev = &serverStatus{isUp: true, lastChange: now}
		w.statuses[serverID] = prev
	}

	switch {
	case prev.isUp && !isUp:
		prev.isUp = false
		prev.failureCount = 1
		prev.lastChange = now
		w.logger.Warn("Panel down", "server", name, "error", checkErr)
	case !prev.isUp && !isUp:
		prev.failureCount++
		w.logger.Warn("Panel still down", "server", name, "failed_checks", prev.failureCount, "error", checkErr)
	case !prev.isUp && isUp:
		w.logger.Info("Panel recovered", "server", name, "downtime", now.Sub(prev.lastChange).Round(time.Second))
		prev.isUp = true
		prev.failureCount = 0
		prev.lastChange = now
	default:
		w.logger.Debug("Panel healthy", "server", name)
	}
}

// Up reports the last known state of a server; unknown servers are up.
func (w *Worker) Up(serverID int64) bool {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	st, ok := w.statuses[serverID]
	return !ok || st.isUp
}
