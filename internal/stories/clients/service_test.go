package clients

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/infra/sqlite3"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/panel/paneltest"
	"kurut-provisioner/internal/storage"
	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/servers"
)

const gib = int64(1 << 30)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubServers map[int64]panel.Server

func (s stubServers) Panel(_ context.Context, id int64) (panel.Server, error) {
	srv, ok := s[id]
	if !ok {
		return panel.Server{}, errors.New("panel server not found")
	}
	return srv, nil
}

type recordingMirror struct {
	mu      sync.Mutex
	syncs   int
	removed []string
	fail    bool
}

func (m *recordingMirror) Sync(_ context.Context, _ int64, remote []panel.Inbound) (mirror.WriteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return mirror.WriteStats{}, errors.New("database is locked")
	}
	m.syncs++
	return mirror.WriteStats{Inbounds: len(remote)}, nil
}

func (m *recordingMirror) MarkRemoved(_ context.Context, _ int64, _ int, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is locked")
	}
	m.removed = append(m.removed, credential)
	return nil
}

func newTestService(p *paneltest.Panel, m Mirror) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := panel.NewTransport(panel.TransportConfig{}, logger)
	factory := panel.NewFactory(panel.NewSessionManager(transport, logger))
	builder := inboundcfg.NewBuilder(inboundcfg.NewCredentials(inboundcfg.TrojanTokenLegacy), logger)

	s := NewService(stubServers{1: p.Server(1)}, factory, m, builder, logger)
	s.now = func() time.Time { return fixedNow }
	return s
}

const (
	firstID  = "11111111-1111-1111-1111-111111111111"
	secondID = "22222222-2222-2222-2222-222222222222"
)

func seed(p *paneltest.Panel, settings string) panel.Inbound {
	return p.Seed(panel.Inbound{
		Remark:         "main",
		Enable:         true,
		Port:           443,
		Protocol:       panel.ProtocolVLESS,
		Settings:       settings,
		StreamSettings: `{"network":"tcp","security":"none"}`,
		Sniffing:       `{"enabled":true,"destOverride":["http","tls"]}`,
	})
}

func clientsOf(t *testing.T, p *paneltest.Panel, id int) []*panel.Object {
	t.Helper()
	in, ok := p.Inbound(id)
	require.True(t, ok)
	settings, err := panel.ParseSettings(in.Settings)
	require.NoError(t, err)
	return settings.Clients
}

func clientOf(t *testing.T, p *paneltest.Panel, id int, credential string) panel.Client {
	t.Helper()
	in, ok := p.Inbound(id)
	require.True(t, ok)
	settings, err := panel.ParseSettings(in.Settings)
	require.NoError(t, err)
	_, o := settings.Find(in.Protocol, credential)
	require.NotNil(t, o, "client not on panel")
	c, err := panel.DecodeClient(o)
	require.NoError(t, err)
	return c
}

func vlessPlan() inboundcfg.PlanParams {
	return inboundcfg.PlanParams{
		Protocol:  panel.ProtocolVLESS,
		Transport: inboundcfg.TransportTCP,
		Security:  inboundcfg.SecurityNone,
		Days:      30,
		VolumeGiB: 10,
	}
}

func TestExtendTraffic(t *testing.T) {
	tests := []struct {
		name          string
		mode          Mode
		wantTotal     int64
		wantUsed      int64
		wantRemaining int64
		wantReset     bool
	}{
		{name: "extend keeps remaining", mode: ModeExtend, wantTotal: 30 * gib, wantUsed: 15 * gib, wantRemaining: 15 * gib},
		{name: "renew starts over", mode: ModeRenew, wantTotal: 10 * gib, wantUsed: 0, wantRemaining: 10 * gib, wantReset: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paneltest.New(panel.VariantSanaei)
			defer p.Close()
			in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":21474836480,"expiryTime":0,"enable":true}],"decryption":"none"}`)
			p.SetStat(in.ID, panel.ClientStat{Email: "u1", Enable: true, Up: 10 * gib, Down: 5 * gib, Total: 20 * gib})

			s := newTestService(p, &recordingMirror{})
			state, err := s.ExtendTraffic(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID, 10, tt.mode)
			require.NoError(t, err)
			require.Equal(t, tt.wantTotal, state.TotalBytes)
			require.Equal(t, tt.wantUsed, state.Used())
			require.Equal(t, tt.wantRemaining, state.Remaining())
			require.Equal(t, tt.wantTotal, clientOf(t, p, in.ID, firstID).TotalGB)

			if tt.wantReset {
				require.Equal(t, []string{"u1"}, p.Resets())
				require.Equal(t, []string{"u1"}, p.IPClears())
				updated, _ := p.Inbound(in.ID)
				st, ok := updated.Stat("u1")
				require.True(t, ok)
				require.Zero(t, st.Up+st.Down)
			} else {
				require.Empty(t, p.Resets())
			}
		})
	}
}

func TestRenewTrafficOnClassicZeroesInboundCounters(t *testing.T) {
	p := paneltest.New(panel.VariantClassic)
	defer p.Close()
	in := p.Seed(panel.Inbound{
		Remark:         "main",
		Enable:         true,
		Port:           443,
		Protocol:       panel.ProtocolVLESS,
		Up:             3 * gib,
		Down:           2 * gib,
		Settings:       `{"clients":[{"id":"` + firstID + `","email":"u1","totalGB":5368709120,"expiryTime":0}],"decryption":"none"}`,
		StreamSettings: `{"network":"tcp","security":"none"}`,
		Sniffing:       `{"enabled":true,"destOverride":["http","tls"]}`,
	})

	s := newTestService(p, &recordingMirror{})
	state, err := s.ExtendTraffic(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID, 10, ModeRenew)
	require.NoError(t, err)
	require.Equal(t, 10*gib, state.TotalBytes)
	require.Zero(t, state.Used())

	updated, ok := p.Inbound(in.ID)
	require.True(t, ok)
	require.Zero(t, updated.Up+updated.Down)
	require.Equal(t, 10*gib, clientOf(t, p, in.ID, firstID).TotalGB)
	require.Empty(t, p.Resets())
}

func TestExtendTrafficKeepsUnlimited(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0,"enable":true}]}`)

	s := newTestService(p, nil)
	state, err := s.ExtendTraffic(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID, 10, ModeExtend)
	require.NoError(t, err)
	require.Zero(t, state.TotalBytes)
	require.Equal(t, int64(-1), state.Remaining())
	require.Zero(t, p.Calls("updateClient"))
}

func TestEditExpiry(t *testing.T) {
	now := fixedNow.UnixMilli()
	tests := []struct {
		name    string
		current int64
		mode    Mode
		want    int64
	}{
		{name: "expired account extends from now", current: now - 2*dayMs, mode: ModeExtend, want: now + 30*dayMs},
		{name: "active account extends from expiry", current: now + 5*dayMs, mode: ModeExtend, want: now + 35*dayMs},
		{name: "unlimited account extends from now", current: 0, mode: ModeExtend, want: now + 30*dayMs},
		{name: "renew ignores remaining time", current: now + 5*dayMs, mode: ModeRenew, want: now + 30*dayMs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []panel.Variant{panel.VariantClassic, panel.VariantSanaei} {
				p := paneltest.New(v)
				settings := `{"clients":[{"id":"` + firstID + `","email":"u1","totalGB":0,"expiryTime":` + strconv.FormatInt(tt.current, 10) + `}]}`
				in := seed(p, settings)

				s := newTestService(p, nil)
				state, err := s.EditExpiry(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID, 30, tt.mode)
				require.NoError(t, err, v)
				require.Equal(t, tt.want, state.ExpiryTime, v)
				require.Equal(t, tt.want, clientOf(t, p, in.ID, firstID).ExpiryTime, v)
				p.Close()
			}
		})
	}
}

func TestRenewUUIDChangesOnlyCredential(t *testing.T) {
	const original = `{"email":"iso","id":"` + firstID + `","flow":"","limitIp":2,"totalGB":123,"expiryTime":456,"enable":true,"tgId":"","subId":"abcdefabcdefabcd","reset":0,"comment":{"a":[1,2]}}`
	const other = `{"id":"` + secondID + `","email":"other","totalGB":0,"expiryTime":0}`

	for _, v := range []panel.Variant{panel.VariantClassic, panel.VariantSanaei, panel.VariantAlireza} {
		t.Run(string(v), func(t *testing.T) {
			p := paneltest.New(v)
			defer p.Close()
			in := seed(p, `{"clients":[`+original+`,`+other+`],"decryption":"none","fallbacks":[]}`)

			m := &recordingMirror{}
			s := newTestService(p, m)
			renewed, err := s.RenewUUID(context.Background(), Target{ServerID: 1, Port: 443}, firstID)
			require.NoError(t, err)
			require.NotEqual(t, firstID, renewed)
			require.Len(t, renewed, 36)
			require.Equal(t, []string{firstID}, m.removed)

			clients := clientsOf(t, p, in.ID)
			require.Len(t, clients, 2)

			got, err := clients[0].MarshalJSON()
			require.NoError(t, err)
			require.Equal(t, strings.Replace(original, firstID, renewed, 1), string(got))

			got, err = clients[1].MarshalJSON()
			require.NoError(t, err)
			require.Equal(t, other, string(got))
		})
	}
}

func TestRenewUUIDLeavesOneActiveMirrorRow(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite3.New(ctx, sqlite3.WithDSN(":memory:"), sqlite3.WithMaxOpenConns(1))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(ctx, db.DB))

	st := storage.New(db.DB)
	srv, err := st.CreateServer(ctx, servers.Server{
		Name:     "de-1",
		BaseURL:  "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
		Variant:  panel.VariantSanaei,
	})
	require.NoError(t, err)

	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0,"enable":true}],"decryption":"none"}`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newTestService(p, mirror.NewService(st, logger))
	s.servers = stubServers{srv.ID: p.Server(srv.ID)}

	_, err = s.SyncServer(ctx, srv.ID)
	require.NoError(t, err)

	renewed, err := s.RenewUUID(ctx, Target{ServerID: srv.ID, Port: 443}, firstID)
	require.NoError(t, err)

	rows, err := st.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, renewed, rows[0].Credential)

	all, err := st.ListClients(ctx, mirror.ClientCriteria{ServerID: &srv.ID, IncludeRemoved: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestConcurrentClassicAddsAreSerialized(t *testing.T) {
	p := paneltest.New(panel.VariantClassic)
	defer p.Close()
	p.ListDelay = 50 * time.Millisecond
	in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"first","totalGB":0,"expiryTime":0}],"decryption":"none","fallbacks":[]}`)

	s := newTestService(p, nil)
	var g errgroup.Group
	for _, label := range []string{"left", "right"} {
		g.Go(func() error {
			_, err := s.AddClient(context.Background(), AddParams{
				Target: Target{ServerID: 1, InboundID: in.ID},
				Plan:   vlessPlan(),
				Count:  1,
				Label:  label,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	clients := clientsOf(t, p, in.ID)
	require.Len(t, clients, 3)
	emails := []string{clients[1].String("email"), clients[2].String("email")}
	require.Condition(t, func() bool {
		return (strings.HasPrefix(emails[0], "left-") && strings.HasPrefix(emails[1], "right-")) ||
			(strings.HasPrefix(emails[0], "right-") && strings.HasPrefix(emails[1], "left-"))
	})
}

func TestAddClientRealityScenario(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	m := &recordingMirror{}
	s := newTestService(p, m)
	ctx := context.Background()

	plan := inboundcfg.PlanParams{
		Protocol:  panel.ProtocolVLESS,
		Transport: inboundcfg.TransportTCP,
		Security:  inboundcfg.SecurityReality,
		Days:      30,
		VolumeGiB: 10,
	}
	created, err := s.CreateInbound(ctx, CreateInboundParams{ServerID: 1, Plan: plan, Port: 443, Remark: "de"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, 1, p.Calls("cert"))

	result, err := s.AddClient(ctx, AddParams{Target: Target{ServerID: 1, InboundID: created.ID}, Plan: plan, Count: 1, Label: "u"})
	require.NoError(t, err)
	require.Len(t, result.Slots, 1)

	slot := result.Slots[0]
	require.True(t, slot.OK())
	require.Len(t, slot.SubID, 16)

	c := clientOf(t, p, created.ID, slot.Credential)
	require.Equal(t, slot.SubID, c.SubID)
	require.Equal(t, 10*gib, c.TotalGB)
	require.Equal(t, fixedNow.UnixMilli()+30*86400000, c.ExpiryTime)
	require.True(t, c.Enabled())

	pattern := `^vless://` + regexp.QuoteMeta(slot.Credential) +
		`@edge\.example\.com:443\?type=tcp&security=reality&fp=firefox&pbk=pub-key-fake&sni=yahoo\.com&sid=[0-9a-f]{8}&spx=%2F#de-u-[a-z0-9]{5}$`
	require.Regexp(t, pattern, slot.Link)

	link, err := s.Link(ctx, Target{ServerID: 1, Port: 443}, slot.Credential, false)
	require.NoError(t, err)
	require.Equal(t, slot.Link, link)

	require.Equal(t, 2, m.syncs)
}

func TestCreateInboundRejectsRealityOnIncapableServer(t *testing.T) {
	p := paneltest.New(panel.VariantClassic)
	defer p.Close()
	s := newTestService(p, nil)

	plan := vlessPlan()
	plan.Security = inboundcfg.SecurityReality
	_, err := s.CreateInbound(context.Background(), CreateInboundParams{ServerID: 1, Plan: plan, Port: 8443})
	require.True(t, inboundcfg.IsValidation(err))
	require.Zero(t, p.Calls("add"))
}

func TestAddClientPartialBatch(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	p.RejectAddClient = func(n int) bool { return n == 2 }
	in := seed(p, `{"clients":[],"decryption":"none","fallbacks":[]}`)

	s := newTestService(p, &recordingMirror{})
	result, err := s.AddClient(context.Background(), AddParams{
		Target: Target{ServerID: 1, InboundID: in.ID},
		Plan:   vlessPlan(),
		Count:  3,
		Label:  "order-7",
	})

	var batchErr *PartialBatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 3, batchErr.Total)
	require.Len(t, batchErr.Failed, 1)

	require.NotNil(t, result)
	require.Len(t, result.Slots, 3)
	require.Len(t, result.Succeeded(), 2)
	require.False(t, result.Slots[1].OK())
	for _, slot := range result.Succeeded() {
		require.True(t, strings.HasPrefix(slot.Link, "vless://"+slot.Credential+"@"))
	}
	require.Len(t, clientsOf(t, p, in.ID), 2)
}

func TestAddClientAbortsOnAuthFailure(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	in := seed(p, `{"clients":[]}`)

	s := newTestService(p, nil)
	srv := p.Server(1)
	srv.Password = "hunter2-not-it"
	s.servers = stubServers{1: srv}

	result, err := s.AddClient(context.Background(), AddParams{Target: Target{ServerID: 1, InboundID: in.ID}, Plan: vlessPlan(), Count: 2})
	require.Nil(t, result)
	require.True(t, panel.IsAuth(err))
	require.False(t, IsPartialBatch(err))
	require.NotContains(t, err.Error(), "hunter2-not-it")
}

func TestAddClientValidation(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	in := seed(p, `{"clients":[]}`)
	s := newTestService(p, nil)

	trojan := vlessPlan()
	trojan.Protocol = panel.ProtocolTrojan

	tests := []struct {
		name   string
		params AddParams
	}{
		{name: "zero count", params: AddParams{Target: Target{ServerID: 1, InboundID: in.ID}, Plan: vlessPlan()}},
		{name: "protocol mismatch", params: AddParams{Target: Target{ServerID: 1, InboundID: in.ID}, Plan: trojan, Count: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddClient(context.Background(), tt.params)
			require.True(t, inboundcfg.IsValidation(err), err)
		})
	}
	require.Zero(t, p.Calls("addClient"))
}

func TestNotFound(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0}]}`)
	s := newTestService(p, nil)
	ctx := context.Background()

	_, err := s.ToggleEnable(ctx, Target{ServerID: 1, InboundID: in.ID}, secondID)
	require.True(t, panel.IsNotFound(err))
	require.NotContains(t, err.Error(), secondID)

	_, err = s.RenewUUID(ctx, Target{ServerID: 1, InboundID: 99}, firstID)
	require.True(t, panel.IsNotFound(err))

	_, err = s.DeleteClient(ctx, Target{ServerID: 1, Port: 8443}, firstID, true)
	require.True(t, panel.IsNotFound(err))
}

func TestToggleEnable(t *testing.T) {
	t.Run("per client flag", func(t *testing.T) {
		p := paneltest.New(panel.VariantSanaei)
		defer p.Close()
		in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0,"enable":true}]}`)
		s := newTestService(p, nil)

		state, err := s.ToggleEnable(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID)
		require.NoError(t, err)
		require.False(t, state.Enable)
		require.False(t, clientOf(t, p, in.ID, firstID).Enabled())

		state, err = s.ToggleEnable(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID)
		require.NoError(t, err)
		require.True(t, state.Enable)
	})

	t.Run("classic flips inbound", func(t *testing.T) {
		p := paneltest.New(panel.VariantClassic)
		defer p.Close()
		in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0}]}`)
		s := newTestService(p, nil)

		state, err := s.ToggleEnable(context.Background(), Target{ServerID: 1, InboundID: in.ID}, firstID)
		require.NoError(t, err)
		require.False(t, state.Enable)

		updated, _ := p.Inbound(in.ID)
		require.False(t, updated.Enable)
		require.Equal(t, in.Settings, updated.Settings)
	})
}

func TestDeleteClient(t *testing.T) {
	for _, v := range []panel.Variant{panel.VariantClassic, panel.VariantSanaei} {
		t.Run(string(v), func(t *testing.T) {
			p := paneltest.New(v)
			defer p.Close()
			in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":1073741824,"expiryTime":0},{"id":"`+secondID+`","email":"u2","totalGB":0,"expiryTime":0}]}`)
			p.SetStat(in.ID, panel.ClientStat{Email: "u1", Up: 100, Down: 200})

			m := &recordingMirror{}
			s := newTestService(p, m)
			ctx := context.Background()

			snap, err := s.DeleteClient(ctx, Target{ServerID: 1, InboundID: in.ID}, firstID, false)
			require.NoError(t, err)
			require.False(t, snap.Purged)
			require.Len(t, clientsOf(t, p, in.ID), 2)

			snap, err = s.DeleteClient(ctx, Target{ServerID: 1, InboundID: in.ID}, firstID, true)
			require.NoError(t, err)
			require.True(t, snap.Purged)
			require.Equal(t, "u1", snap.Email)
			require.Equal(t, int64(300), snap.Used())
			require.Equal(t, gib, snap.TotalBytes)

			clients := clientsOf(t, p, in.ID)
			require.Len(t, clients, 1)
			require.Equal(t, secondID, clients[0].String("id"))
			require.Equal(t, []string{firstID}, m.removed)
		})
	}
}

func TestMirrorFailureDoesNotFailOperation(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()
	in := seed(p, `{"clients":[{"id":"`+firstID+`","email":"u1","totalGB":0,"expiryTime":0}]}`)

	s := newTestService(p, &recordingMirror{fail: true})
	ctx := context.Background()

	_, err := s.EditExpiry(ctx, Target{ServerID: 1, InboundID: in.ID}, firstID, 7, ModeRenew)
	require.NoError(t, err)

	snap, err := s.DeleteClient(ctx, Target{ServerID: 1, InboundID: in.ID}, firstID, true)
	require.NoError(t, err)
	require.True(t, snap.Purged)

	_, err = s.SyncServer(ctx, 1)
	require.Error(t, err)
}

func TestSyncServer(t *testing.T) {
	p := paneltest.New(panel.VariantAlireza)
	defer p.Close()
	seed(p, `{"clients":[]}`)

	m := &recordingMirror{}
	s := newTestService(p, m)
	stats, err := s.SyncServer(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inbounds)
	require.Equal(t, 1, m.syncs)

	_, err = s.SyncServer(context.Background(), 2)
	require.Error(t, err)
	require.Equal(t, 1, m.syncs)
}
