package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
)

var rowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mirror_rows_written_total",
	Help: "Local mirror rows inserted or changed by sync.",
}, []string{"kind"})

// Service keeps the local mirror of remote inbounds and clients. It only
// adds and updates rows present in a fetched snapshot.
type Service struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(storage Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger, now: time.Now}
}

// Sync upserts remote into the mirror of serverID. An empty list writes
// nothing.
func (s *Service) Sync(ctx context.Context, serverID int64, remote []panel.Inbound) (WriteStats, error) {
	if len(remote) == 0 {
		s.logger.Warn("remote inbound list is empty, mirror left untouched", "server_id", serverID)
		return WriteStats{}, nil
	}

	snapshots := make([]Snapshot, 0, len(remote))
	for _, in := range remote {
		snap, err := NewSnapshot(serverID, in)
		if err != nil {
			s.logger.Warn("skip inbound with unreadable settings", "server_id", serverID, "port", in.Port, "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}

	stats, err := s.storage.UpsertSnapshots(ctx, serverID, snapshots)
	if err != nil {
		return WriteStats{}, errors.Wrap(err, "failed to upsert mirror snapshots")
	}

	rowsWritten.WithLabelValues("inbound").Add(float64(stats.Inbounds))
	rowsWritten.WithLabelValues("client").Add(float64(stats.Clients))
	s.logger.Debug("mirror synced", "server_id", serverID, "inbounds", len(snapshots), "inbounds_written", stats.Inbounds, "clients_written", stats.Clients)
	return stats, nil
}

// NewSnapshot converts a remote inbound into mirror rows.
func NewSnapshot(serverID int64, in panel.Inbound) (Snapshot, error) {
	settings, err := panel.ParseSettings(in.Settings)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Inbound: Inbound{
		ServerID:       serverID,
		RemoteID:       in.ID,
		Port:           in.Port,
		Protocol:       in.Protocol,
		Remark:         in.Remark,
		Enable:         in.Enable,
		ExpiryTime:     in.ExpiryTime,
		Up:             in.Up,
		Down:           in.Down,
		Total:          in.Total,
		Settings:       in.Settings,
		StreamSettings: in.StreamSettings,
		Sniffing:       in.Sniffing,
	}}
	if stream, err := inboundcfg.ParseStream(in.StreamSettings); err == nil {
		snap.Inbound.Transport = string(stream.Network)
		snap.Inbound.Security = string(stream.Security)
	}

	for _, o := range settings.Clients {
		c, err := panel.DecodeClient(o)
		if err != nil {
			return Snapshot{}, err
		}
		cred := c.Credential(in.Protocol)
		if cred == "" {
			continue
		}
		row := Client{
			Credential: cred,
			Email:      c.Email,
			TotalBytes: c.TotalGB,
			ExpiryTime: c.ExpiryTime,
			Enable:     c.Enabled() && in.Enable,
			SubID:      c.SubID,
			LimitIP:    c.LimitIP,
			Flow:       c.Flow,
		}
		if st, ok := in.Stat(c.Email); ok {
			row.Up, row.Down = st.Up, st.Down
		}
		snap.Clients = append(snap.Clients, row)
	}
	return snap, nil
}

// MarkRemoved flags a purged client. The row and its counters stay.
func (s *Service) MarkRemoved(ctx context.Context, serverID int64, port int, credential string) error {
	in, err := s.storage.GetInbound(ctx, InboundCriteria{ServerID: &serverID, Port: &port})
	if err != nil {
		return errors.Wrap(err, "failed to get mirror inbound")
	}
	if in == nil {
		return nil
	}
	if err := s.storage.MarkClientRemoved(ctx, in.ID, credential, s.now().UTC()); err != nil {
		return errors.Wrap(err, "failed to mark mirror client removed")
	}
	return nil
}

func (s *Service) Inbounds(ctx context.Context, serverID int64) ([]*Inbound, error) {
	inbounds, err := s.storage.ListInbounds(ctx, InboundCriteria{ServerID: &serverID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list mirror inbounds")
	}
	return inbounds, nil
}

func (s *Service) Clients(ctx context.Context, criteria ClientCriteria) ([]*Client, error) {
	clients, err := s.storage.ListClients(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list mirror clients")
	}
	return clients, nil
}
