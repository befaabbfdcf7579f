package environment

import (
	"context"
	"log/slog"
	"net/http"

	"kurut-provisioner/internal/config"
)

// Servers holds the HTTP servers the provisioner exposes. Observability is
// nil when disabled.
type Servers struct {
	Observability *http.Server
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients) *Servers {
	return &Servers{
		Observability: initObservability(ctx, logger.WithGroup("http"), clients, cfg),
	}
}
