package storage

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/infra/sqlite3"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/plans"
	"kurut-provisioner/internal/stories/servers"
)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()
	// one connection, otherwise every connection sees its own empty :memory: database
	db, err := sqlite3.New(context.Background(), sqlite3.WithDSN(":memory:"), sqlite3.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db.DB))
	require.NoError(t, Migrate(context.Background(), db.DB))
	return New(db.DB)
}

func createServer(t *testing.T, s *storageImpl) *servers.Server {
	t.Helper()
	srv, err := s.CreateServer(context.Background(), servers.Server{
		Name:     "de-1",
		BaseURL:  "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
		Variant:  panel.VariantSanaei,
	})
	require.NoError(t, err)
	return srv
}

func TestServersCRUD(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	srv := createServer(t, s)
	require.NotZero(t, srv.ID)
	require.Equal(t, panel.VariantSanaei, srv.Variant)

	got, err := s.GetServer(ctx, servers.GetCriteria{Name: lo.ToPtr("de-1")})
	require.NoError(t, err)
	require.Equal(t, srv.ID, got.ID)

	updated, err := s.UpdateServer(ctx, servers.GetCriteria{ID: &srv.ID}, servers.UpdateParams{
		Archived:       lo.ToPtr(true),
		RealityCapable: lo.ToPtr(true),
	})
	require.NoError(t, err)
	require.True(t, updated.Archived)
	require.True(t, updated.RealityCapable)

	active, err := s.ListServers(ctx, servers.ListCriteria{Archived: lo.ToPtr(false)})
	require.NoError(t, err)
	require.Empty(t, active)

	missing, err := s.GetServer(ctx, servers.GetCriteria{ID: lo.ToPtr(int64(999))})
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPlansKeepParams(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	params := inboundcfg.PlanParams{
		Protocol:  panel.ProtocolVLESS,
		Transport: inboundcfg.TransportTCP,
		Security:  inboundcfg.SecurityReality,
		Days:      30,
		VolumeGiB: 10,
		Reality:   inboundcfg.RealityParams{ServerNames: []string{"www.microsoft.com"}},
	}
	plan, err := s.CreatePlan(ctx, plans.Plan{Name: "monthly", Params: params})
	require.NoError(t, err)
	require.Equal(t, params, plan.Params)

	params.Days = 90
	updated, err := s.UpdatePlan(ctx, plans.GetCriteria{ID: &plan.ID}, plans.UpdateParams{Params: &params})
	require.NoError(t, err)
	require.Equal(t, 90, updated.Params.Days)

	list, err := s.ListPlans(ctx, plans.ListCriteria{Archived: lo.ToPtr(false)})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func snapshot(serverID int64, up int64) mirror.Snapshot {
	return mirror.Snapshot{
		Inbound: mirror.Inbound{
			ServerID:       serverID,
			RemoteID:       3,
			Port:           443,
			Protocol:       panel.ProtocolVLESS,
			Transport:      "tcp",
			Security:       "reality",
			Remark:         "main",
			Enable:         true,
			Settings:       `{"clients":[]}`,
			StreamSettings: `{"network":"tcp","security":"reality"}`,
			Sniffing:       `{}`,
		},
		Clients: []mirror.Client{
			{Credential: "uuid-a", Email: "a", TotalBytes: 10, Up: up, Down: 2, Enable: true, SubID: "sub-a"},
			{Credential: "uuid-b", Email: "b", TotalBytes: 0, Enable: false},
		},
	}
}

func TestUpsertSnapshotsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	srv := createServer(t, s)

	stats, err := s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{snapshot(srv.ID, 1)})
	require.NoError(t, err)
	require.Equal(t, mirror.WriteStats{Inbounds: 1, Clients: 2}, stats)

	before, err := s.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID})
	require.NoError(t, err)
	inboundsBefore, err := s.ListInbounds(ctx, mirror.InboundCriteria{ServerID: &srv.ID})
	require.NoError(t, err)

	stats, err = s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{snapshot(srv.ID, 1)})
	require.NoError(t, err)
	require.Equal(t, mirror.WriteStats{}, stats)

	after, err := s.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID})
	require.NoError(t, err)
	inboundsAfter, err := s.ListInbounds(ctx, mirror.InboundCriteria{ServerID: &srv.ID})
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, inboundsBefore, inboundsAfter)

	stats, err = s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{snapshot(srv.ID, 7)})
	require.NoError(t, err)
	require.Equal(t, mirror.WriteStats{Inbounds: 0, Clients: 1}, stats)

	clients, err := s.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID, Credential: lo.ToPtr("uuid-a")})
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, int64(7), clients[0].Up)
}

func TestUpsertKeepsRowsMissingFromSnapshot(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	srv := createServer(t, s)

	_, err := s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{snapshot(srv.ID, 1)})
	require.NoError(t, err)

	partial := snapshot(srv.ID, 1)
	partial.Clients = partial.Clients[:1]
	_, err = s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{partial})
	require.NoError(t, err)
	_, err = s.UpsertSnapshots(ctx, srv.ID, nil)
	require.NoError(t, err)

	clients, err := s.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID})
	require.NoError(t, err)
	require.Len(t, clients, 2)
}

func TestMarkClientRemoved(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	srv := createServer(t, s)

	_, err := s.UpsertSnapshots(ctx, srv.ID, []mirror.Snapshot{snapshot(srv.ID, 1)})
	require.NoError(t, err)
	in, err := s.GetInbound(ctx, mirror.InboundCriteria{ServerID: &srv.ID, Port: lo.ToPtr(443)})
	require.NoError(t, err)
	require.NotNil(t, in)

	require.NoError(t, s.MarkClientRemoved(ctx, in.ID, "uuid-a", s.now()))

	visible, err := s.ListClients(ctx, mirror.ClientCriteria{InboundID: &in.ID})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "uuid-b", visible[0].Credential)

	all, err := s.ListClients(ctx, mirror.ClientCriteria{InboundID: &in.ID, IncludeRemoved: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[0].RemovedAt)
	require.Equal(t, int64(1), all[0].Up)
}
