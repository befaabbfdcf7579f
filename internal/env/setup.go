package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"kurut-provisioner/internal/config"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	Closers []closer
}

func Setup(ctx context.Context) (*Env, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(ctx, envconfig.OsLookuper())
	if err != nil {
		return nil, err
	}

	var e Env

	logger, err := initLogger(*cfg)
	if err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}

	clients, err := newClients(ctx, *cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("newClients: %w", err)
	}

	services, err := newServices(ctx, clients, cfg, logger)
	if err != nil {
		clients.SQLiteDB.Close()
		return nil, fmt.Errorf("newServices: %w", err)
	}

	if cfg.SeedFile != "" {
		if err := importSeed(ctx, cfg.SeedFile, services, logger); err != nil {
			clients.SQLiteDB.Close()
			return nil, fmt.Errorf("seed import: %w", err)
		}
	}

	e.Servers = newServers(ctx, *cfg, logger, clients)
	e.Config = cfg
	e.Logger = logger
	e.Clients = clients
	e.Services = services
	e.Closers = []closer{
		func() {
			if err := clients.SQLiteDB.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		},
	}

	return &e, nil
}

// Close runs the closers in reverse order.
func (e *Env) Close() {
	for i := len(e.Closers) - 1; i >= 0; i-- {
		e.Closers[i]()
	}
}
