package environment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kurut-provisioner/internal/config"
	"kurut-provisioner/internal/infra/sqlite3"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/storage"
)

type Clients struct {
	SQLiteDB *sqlite3.DB
	Sessions *panel.SessionManager
	Panels   *panel.Factory
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, sqliteDB.DB); err != nil {
		sqliteDB.Close()
		return nil, err
	}

	transport := panel.NewTransport(panel.TransportConfig{
		LoginTimeout:   cfg.Panel.LoginTimeout,
		RequestTimeout: cfg.Panel.RequestTimeout,
		UserAgent:      cfg.Panel.UserAgent,
		RateLimitRPS:   cfg.Panel.RateLimit.RPS,
		RateLimitBurst: cfg.Panel.RateLimit.Burst,
	}, logger.WithGroup("panel"))
	sessions := panel.NewSessionManager(transport, logger.WithGroup("panel"))

	return &Clients{
		SQLiteDB: sqliteDB,
		Sessions: sessions,
		Panels:   panel.NewFactory(sessions),
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, fmt.Errorf("parse DB_MAX_LIFETIME: %w", err)
	}

	opts := []sqlite3.Option{
		sqlite3.WithPath(cfg.DB.Path),
		sqlite3.WithBusyTimeout(cfg.DB.BusyTimeout),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(maxLifetime),
	}

	return sqlite3.New(ctx, opts...)
}
