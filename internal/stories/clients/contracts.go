package clients

import (
	"context"

	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/mirror"
)

type (
	Servers interface {
		Panel(ctx context.Context, id int64) (panel.Server, error)
	}

	Panels interface {
		Open(srv panel.Server) (*panel.Conn, error)
	}

	Mirror interface {
		Sync(ctx context.Context, serverID int64, remote []panel.Inbound) (mirror.WriteStats, error)
		MarkRemoved(ctx context.Context, serverID int64, port int, credential string) error
	}
)
