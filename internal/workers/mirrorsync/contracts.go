package mirrorsync

import (
	"context"

	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/servers"
)

type (
	Servers interface {
		ListActive(ctx context.Context) ([]*servers.Server, error)
	}

	Syncer interface {
		SyncServer(ctx context.Context, serverID int64) (mirror.WriteStats, error)
	}
)
