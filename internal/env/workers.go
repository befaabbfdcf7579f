package environment

import (
	"kurut-provisioner/internal/workers"
	"kurut-provisioner/internal/workers/healthcheck"
	"kurut-provisioner/internal/workers/mirrorsync"
)

// NewWorkers builds the background workers enabled in the config.
func (e *Env) NewWorkers() *workers.Manager {
	var list []workers.Worker
	if e.Config.Sync.Enabled {
		list = append(list, mirrorsync.NewWorker(
			e.Services.Servers,
			e.Services.Clients,
			e.Config.Sync.Schedule,
			e.Config.Sync.Concurrency,
			e.Logger.WithGroup("mirrorsync"),
		))
	}
	if e.Config.Health.Enabled {
		list = append(list, healthcheck.NewWorker(
			e.Services.Servers,
			e.Clients.Panels,
			e.Config.Health.Interval,
			e.Logger.WithGroup("healthcheck"),
		))
	}
	return workers.NewManager(e.Logger.WithGroup("workers"), list...)
}
