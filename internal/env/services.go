package environment

import (
	"context"
	"log/slog"

	"kurut-provisioner/internal/config"
	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/storage"
	"kurut-provisioner/internal/stories/clients"
	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/plans"
	"kurut-provisioner/internal/stories/servers"
)

type Services struct {
	Servers *servers.Service
	Plans   *plans.Service
	Mirror  *mirror.Service
	Clients *clients.Service
}

func newServices(_ context.Context, c *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	storageImpl := storage.New(c.SQLiteDB.DB)

	serverService := servers.NewService(storageImpl)
	planService := plans.NewService(storageImpl)
	mirrorService := mirror.NewService(storageImpl, logger.WithGroup("mirror"))

	builder := inboundcfg.NewBuilder(
		inboundcfg.NewCredentials(inboundcfg.TrojanTokenMode(cfg.Panel.TrojanTokenMode)),
		logger.WithGroup("inboundcfg"),
	)
	clientService := clients.NewService(serverService, c.Panels, mirrorService, builder, logger.WithGroup("clients"))

	return &Services{
		Servers: serverService,
		Plans:   planService,
		Mirror:  mirrorService,
		Clients: clientService,
	}, nil
}
