package workers

import (
	"fmt"
	"log/slog"
)

// Manager manages multiple workers
type Manager struct {
	workers []Worker
	started []Worker
	logger  *slog.Logger
}

// NewManager creates a new worker manager. Nil workers are skipped, so
// disabled workers can be passed as nil.
func NewManager(logger *slog.Logger, workers ...Worker) *Manager {
	m := &Manager{logger: logger}
	for _, w := range workers {
		if w != nil {
			m.workers = append(m.workers, w)
		}
	}
	return m
}

// Start starts all workers. When one fails the already started ones are
// stopped again.
func (m *Manager) Start() error {
	m.logger.Info("Starting worker manager", "worker_count", len(m.workers))

	for _, worker := range m.workers {
		if err := worker.Start(); err != nil {
			m.Stop()
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.started = append(m.started, worker)
		m.logger.Info("Worker started", "name", worker.Name())
	}

	return nil
}

// Stop stops started workers in reverse order
func (m *Manager) Stop() {
	m.logger.Info("Stopping all workers")

	for i := len(m.started) - 1; i >= 0; i-- {
		m.logger.Info("Stopping worker", "name", m.started[i].Name())
		m.started[i].Stop()
	}
	m.started = nil

	m.logger.Info("All workers stopped")
}
