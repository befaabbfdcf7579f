package healthcheck

import (
	"context"

	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/servers"
)

type (
	Servers interface {
		ListActive(ctx context.Context) ([]*servers.Server, error)
	}

	Panels interface {
		Open(srv panel.Server) (*panel.Conn, error)
	}
)
