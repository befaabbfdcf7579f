package mirror

import (
	"context"
	"time"
)

type (
	Storage interface {
		UpsertSnapshots(ctx context.Context, serverID int64, snapshots []Snapshot) (WriteStats, error)
		GetInbound(ctx context.Context, criteria InboundCriteria) (*Inbound, error)
		ListInbounds(ctx context.Context, criteria InboundCriteria) ([]*Inbound, error)
		ListClients(ctx context.Context, criteria ClientCriteria) ([]*Client, error)
		MarkClientRemoved(ctx context.Context, inboundID int64, credential string, at time.Time) error
	}
)
