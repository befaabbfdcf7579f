package clients

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/links"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/mirror"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provisioning_operations_total",
	Help: "Client lifecycle operations by outcome.",
}, []string{"op", "outcome"})

// Service provisions and maintains accounts on remote panels. Every mutation
// reads the target inbound fresh, edits one client entry and submits it back
// while holding the server's lock.
type Service struct {
	servers Servers
	panels  Panels
	mirror  Mirror
	builder *inboundcfg.Builder
	locks   *locker
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(servers Servers, panels Panels, mirror Mirror, builder *inboundcfg.Builder, logger *slog.Logger) *Service {
	return &Service{
		servers: servers,
		panels:  panels,
		mirror:  mirror,
		builder: builder,
		locks:   newLocker(),
		logger:  logger,
		now:     time.Now,
	}
}

func observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsPartialBatch(err):
		outcome = "partial"
	case panel.IsAuth(err):
		outcome = "auth"
	case panel.IsNetwork(err):
		outcome = "network"
	case panel.IsNotFound(err):
		outcome = "not_found"
	case inboundcfg.IsValidation(err):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
}

// aborts reports whether err ends a whole batch instead of one slot.
func aborts(err error) bool {
	return panel.IsAuth(err) || panel.IsNetwork(err)
}

type call struct {
	srv  panel.Server
	c    *panel.Conn
	caps panel.Capabilities
}

func (s *Service) open(ctx context.Context, serverID int64) (*call, error) {
	srv, err := s.servers.Panel(ctx, serverID)
	if err != nil {
		return nil, err
	}
	c, err := s.panels.Open(srv)
	if err != nil {
		return nil, err
	}
	return &call{srv: srv, c: c, caps: c.Capabilities()}, nil
}

// mutate runs fn against a fresh read of the target inbound under the
// server lock, then refreshes the mirror outside of it.
func (s *Service) mutate(ctx context.Context, op string, t Target, fn func(cl *call, in *panel.Inbound) error) (err error) {
	defer func() { observe(op, err) }()

	cl, err := s.open(ctx, t.ServerID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(t.ServerID)
	in, err := cl.c.FindInbound(ctx, t.InboundID, t.Port)
	if err == nil {
		err = fn(cl, in)
	}
	unlock()

	if err == nil || IsPartialBatch(err) {
		s.logger.Info("panel mutation applied", "op", op, "server", cl.srv.Name, "inbound_id", in.ID)
		s.refreshMirror(ctx, cl)
	}
	return err
}

// refreshMirror copies the current remote state into the mirror. The panel
// is authoritative, so failures are only logged.
func (s *Service) refreshMirror(ctx context.Context, cl *call) {
	if s.mirror == nil {
		return
	}
	inbounds, err := cl.c.ListInbounds(ctx)
	if err != nil {
		s.logger.Warn("mirror refresh: list inbounds failed", "server", cl.srv.Name, "error", err)
		return
	}
	if _, err := s.mirror.Sync(ctx, cl.srv.ID, inbounds); err != nil {
		s.logger.Warn("mirror refresh: sync failed", "server", cl.srv.Name, "error", err)
	}
}

func findClient(srv panel.Server, in *panel.Inbound, credential string) (*panel.Settings, int, *panel.Object, error) {
	settings, err := panel.ParseSettings(in.Settings)
	if err != nil {
		return nil, 0, nil, errors.Wrapf(err, "failed to read settings of inbound %d", in.ID)
	}
	i, o := settings.Find(in.Protocol, credential)
	if o == nil {
		return nil, 0, nil, &panel.NotFoundError{Server: srv.Name, Kind: "client", Key: "in inbound " + in.Tag}
	}
	return settings, i, o, nil
}

func stateOf(in *panel.Inbound, o *panel.Object) (ClientState, error) {
	c, err := panel.DecodeClient(o)
	if err != nil {
		return ClientState{}, err
	}
	st := ClientState{
		Credential: c.Credential(in.Protocol),
		Email:      c.Email,
		Enable:     c.Enabled() && in.Enable,
		TotalBytes: c.TotalGB,
		ExpiryTime: c.ExpiryTime,
	}
	if stat, ok := in.Stat(c.Email); ok {
		st.Up, st.Down = stat.Up, stat.Down
	}
	return st, nil
}

// rewrite submits the whole inbound with settings in place of its clients.
func (s *Service) rewrite(ctx context.Context, cl *call, in *panel.Inbound, settings *panel.Settings) error {
	enc, err := settings.Encode()
	if err != nil {
		return errors.Wrap(err, "failed to encode inbound settings")
	}
	in.Settings = enc
	return cl.c.SubmitInbound(ctx, *in)
}

// writeClient replaces the client at index i, keyed remotely by credential.
func (s *Service) writeClient(ctx context.Context, cl *call, in *panel.Inbound, settings *panel.Settings, i int, credential string, o *panel.Object) error {
	if cl.caps.PartialClients {
		return cl.c.UpdateClient(ctx, *in, credential, o)
	}
	settings.Clients[i] = o
	return s.rewrite(ctx, cl, in, settings)
}

func (s *Service) email(label string) string {
	if label == "" {
		return inboundcfg.RandomSeq(8)
	}
	return label + "-" + inboundcfg.RandomSeq(5)
}

// AddClient creates Count accounts on the target inbound. Slots fail
// independently; when some do the result comes back together with a
// *PartialBatchError. Authentication and network failures abort the batch.
func (s *Service) AddClient(ctx context.Context, params AddParams) (*AddResult, error) {
	if err := validateAdd(params); err != nil {
		observe("add_client", err)
		return nil, err
	}

	var result *AddResult
	err := s.mutate(ctx, "add_client", params.Target, func(cl *call, in *panel.Inbound) error {
		if in.Protocol != params.Plan.Protocol {
			return &inboundcfg.ValidationError{
				Field:  "protocol",
				Reason: "plan is " + string(params.Plan.Protocol) + ", inbound is " + string(in.Protocol),
			}
		}

		opts := inboundcfg.ClientOptionsFor(params.Plan, "", s.now().UnixMilli())
		if !flowApplies(in) {
			opts.Flow = ""
		}

		result = &AddResult{InboundID: in.ID, Port: in.Port}
		objs := make([]*panel.Object, 0, params.Count)
		for range params.Count {
			opts.Email = s.email(params.Label)
			o, cred := s.builder.NewClient(in.Protocol, cl.caps, opts)
			objs = append(objs, o)
			result.Slots = append(result.Slots, SlotResult{Credential: cred, Email: opts.Email, SubID: o.String("subId")})
		}

		if err := s.submitNew(ctx, cl, in, objs, result.Slots); err != nil {
			return err
		}
		s.fillLinks(cl.srv, in, objs, result.Slots)
		return batchError(cl.srv.Name, result.Slots)
	})
	if err != nil && !IsPartialBatch(err) {
		return nil, err
	}
	return result, err
}

func validateAdd(params AddParams) error {
	if params.Count < 1 {
		return &inboundcfg.ValidationError{Field: "count", Reason: "must be at least 1"}
	}
	return params.Plan.Validate()
}

func flowApplies(in *panel.Inbound) bool {
	if in.Protocol != panel.ProtocolVLESS {
		return false
	}
	stream, err := inboundcfg.ParseStream(in.StreamSettings)
	if err != nil {
		return false
	}
	return stream.Network == inboundcfg.TransportTCP && stream.Security != inboundcfg.SecurityNone
}

// submitNew sends new clients: one call per slot where the panel has
// per-client endpoints, otherwise a single whole-inbound rewrite whose
// outcome applies to every slot.
func (s *Service) submitNew(ctx context.Context, cl *call, in *panel.Inbound, objs []*panel.Object, slots []SlotResult) error {
	if !cl.caps.PartialClients {
		settings, err := panel.ParseSettings(in.Settings)
		if err != nil {
			return errors.Wrapf(err, "failed to read settings of inbound %d", in.ID)
		}
		settings.Clients = append(settings.Clients, objs...)
		err = s.rewrite(ctx, cl, in, settings)
		if aborts(err) {
			return err
		}
		for i := range slots {
			slots[i].Err = err
		}
		return nil
	}

	for i, o := range objs {
		err := cl.c.AddClients(ctx, *in, o)
		if aborts(err) {
			if i > 0 {
				s.logger.Warn("add batch aborted after partial creation", "server", cl.srv.Name, "created", i, "requested", len(objs))
			}
			return err
		}
		slots[i].Err = err
	}
	return nil
}

func (s *Service) fillLinks(srv panel.Server, in *panel.Inbound, objs []*panel.Object, slots []SlotResult) {
	for i := range slots {
		if !slots[i].OK() {
			continue
		}
		link, err := clientLink(srv, in, objs[i], false)
		if err != nil {
			s.logger.Warn("connection link not built", "server", srv.Name, "inbound_id", in.ID, "email", slots[i].Email, "error", err)
			continue
		}
		slots[i].Link = link
	}
}

func clientLink(srv panel.Server, in *panel.Inbound, o *panel.Object, bypass bool) (string, error) {
	c, err := panel.DecodeClient(o)
	if err != nil {
		return "", err
	}
	p, err := links.Resolve(srv, *in, c)
	if err != nil {
		return "", err
	}
	return links.Build(p, bypass)
}

func batchError(server string, slots []SlotResult) error {
	var failed []SlotResult
	for _, s := range slots {
		if !s.OK() {
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialBatchError{Server: server, Total: len(slots), Failed: failed}
}

// DeleteClient captures the client's last known counters and, when purge is
// set, removes it from the panel. The snapshot is returned even when the
// removal fails.
func (s *Service) DeleteClient(ctx context.Context, t Target, credential string, purge bool) (*DeleteSnapshot, error) {
	var (
		snap *DeleteSnapshot
		port int
	)
	err := s.mutate(ctx, "delete_client", t, func(cl *call, in *panel.Inbound) error {
		settings, i, o, err := findClient(cl.srv, in, credential)
		if err != nil {
			return err
		}
		state, err := stateOf(in, o)
		if err != nil {
			return err
		}
		snap = &DeleteSnapshot{ClientState: state}
		port = in.Port
		if !purge {
			return nil
		}

		if cl.caps.PartialClients {
			err = cl.c.DeleteClient(ctx, *in, credential)
		} else {
			settings.Remove(i)
			err = s.rewrite(ctx, cl, in, settings)
		}
		if err != nil {
			return err
		}
		snap.Purged = true
		return nil
	})

	if snap != nil && snap.Purged && s.mirror != nil {
		if err := s.mirror.MarkRemoved(ctx, t.ServerID, port, credential); err != nil {
			s.logger.Warn("mirror: mark client removed failed", "server_id", t.ServerID, "port", port, "error", err)
		}
	}
	return snap, err
}

// ToggleEnable flips the client's enable flag. Panels without a per-client
// flag get the inbound-level flag flipped instead.
func (s *Service) ToggleEnable(ctx context.Context, t Target, credential string) (*ClientState, error) {
	var state ClientState
	err := s.mutate(ctx, "toggle_enable", t, func(cl *call, in *panel.Inbound) error {
		settings, i, o, err := findClient(cl.srv, in, credential)
		if err != nil {
			return err
		}

		if !cl.caps.ClientEnable {
			in.Enable = !in.Enable
			if err := cl.c.SubmitInbound(ctx, *in); err != nil {
				return err
			}
			state, err = stateOf(in, o)
			return err
		}

		enabled, ok := o.Bool("enable")
		next := o.Clone()
		next.SetBool("enable", ok && !enabled)
		if err := s.writeClient(ctx, cl, in, settings, i, credential, next); err != nil {
			return err
		}
		state, err = stateOf(in, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// RenewUUID replaces the client's credential and nothing else. The mirror
// row of the old credential is marked removed.
func (s *Service) RenewUUID(ctx context.Context, t Target, credential string) (string, error) {
	var (
		renewed string
		port    int
	)
	err := s.mutate(ctx, "renew_uuid", t, func(cl *call, in *panel.Inbound) error {
		settings, i, o, err := findClient(cl.srv, in, credential)
		if err != nil {
			return err
		}
		cred := s.builder.NewCredential(in.Protocol)
		next := o.Clone()
		next.SetString(in.Protocol.CredentialKey(), cred)
		if err := s.writeClient(ctx, cl, in, settings, i, credential, next); err != nil {
			return err
		}
		renewed = cred
		port = in.Port
		return nil
	})
	if err != nil {
		return "", err
	}

	if s.mirror != nil {
		if err := s.mirror.MarkRemoved(ctx, t.ServerID, port, credential); err != nil {
			s.logger.Warn("mirror: mark renewed credential removed failed", "server_id", t.ServerID, "port", port, "error", err)
		}
	}
	return renewed, nil
}

// ExtendTraffic changes the client's traffic limit. ModeExtend adds addGiB to
// what is left, so unused traffic carries over and overuse is forgiven; an
// unlimited client stays unlimited. ModeRenew sets the limit to addGiB and
// resets the used counters on the panel.
func (s *Service) ExtendTraffic(ctx context.Context, t Target, credential string, addGiB float64, mode Mode) (*ClientState, error) {
	if err := checkMode(mode); err != nil {
		observe("extend_traffic", err)
		return nil, err
	}
	if addGiB < 0 {
		err := &inboundcfg.ValidationError{Field: "add_gib", Reason: "must not be negative"}
		observe("extend_traffic", err)
		return nil, err
	}

	var state ClientState
	err := s.mutate(ctx, "extend_traffic", t, func(cl *call, in *panel.Inbound) error {
		settings, i, o, err := findClient(cl.srv, in, credential)
		if err != nil {
			return err
		}
		state, err = stateOf(in, o)
		if err != nil {
			return err
		}

		add := inboundcfg.GiBToBytes(addGiB)
		next := o.Clone()
		switch mode {
		case ModeExtend:
			if state.TotalBytes == 0 {
				return nil
			}
			state.TotalBytes = state.Used() + state.Remaining() + add
		case ModeRenew:
			state.TotalBytes = add
			if cl.caps.ClientEnable {
				next.SetBool("enable", true)
				state.Enable = in.Enable
			}
			if !cl.caps.PartialClients && !cl.caps.ResetTraffic {
				in.Up, in.Down = 0, 0
				state.Up, state.Down = 0, 0
			}
		}
		next.SetInt64("totalGB", state.TotalBytes)
		if err := s.writeClient(ctx, cl, in, settings, i, credential, next); err != nil {
			return err
		}

		if mode == ModeRenew {
			return s.resetUsage(ctx, cl, in, &state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Service) resetUsage(ctx context.Context, cl *call, in *panel.Inbound, state *ClientState) error {
	if cl.caps.ResetTraffic {
		if err := cl.c.ResetClientTraffic(ctx, *in, state.Email); err != nil {
			return err
		}
		state.Up, state.Down = 0, 0
	}
	if cl.caps.ResetIPs {
		if err := cl.c.ClearClientIPs(ctx, state.Email); err != nil {
			return err
		}
	}
	return nil
}

// EditExpiry moves the client's expiry. ModeRenew sets it to now plus
// addDays. ModeExtend adds addDays to the later of now and the current
// expiry, so an expired or unlimited account counts from now.
func (s *Service) EditExpiry(ctx context.Context, t Target, credential string, addDays int, mode Mode) (*ClientState, error) {
	if err := checkMode(mode); err != nil {
		observe("edit_expiry", err)
		return nil, err
	}
	if addDays < 0 {
		err := &inboundcfg.ValidationError{Field: "add_days", Reason: "must not be negative"}
		observe("edit_expiry", err)
		return nil, err
	}

	var state ClientState
	err := s.mutate(ctx, "edit_expiry", t, func(cl *call, in *panel.Inbound) error {
		settings, i, o, err := findClient(cl.srv, in, credential)
		if err != nil {
			return err
		}
		state, err = stateOf(in, o)
		if err != nil {
			return err
		}

		now := s.now().UnixMilli()
		next := o.Clone()
		switch mode {
		case ModeExtend:
			state.ExpiryTime = max(now, state.ExpiryTime) + int64(addDays)*dayMs
		case ModeRenew:
			state.ExpiryTime = now + int64(addDays)*dayMs
			if cl.caps.ClientEnable {
				next.SetBool("enable", true)
				state.Enable = in.Enable
			}
		}
		next.SetInt64("expiryTime", state.ExpiryTime)
		return s.writeClient(ctx, cl, in, settings, i, credential, next)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func checkMode(m Mode) error {
	if !m.Valid() {
		return &inboundcfg.ValidationError{Field: "mode", Reason: "must be extend or renew"}
	}
	return nil
}

// CreateInbound builds a new inbound from plan parameters and adds it to the
// server.
func (s *Service) CreateInbound(ctx context.Context, params CreateInboundParams) (_ *panel.Inbound, err error) {
	defer func() { observe("create_inbound", err) }()

	if err := params.Plan.Validate(); err != nil {
		return nil, err
	}
	if params.Port < 1 || params.Port > 65535 {
		return nil, &inboundcfg.ValidationError{Field: "port", Reason: "must be within 1-65535"}
	}

	cl, err := s.open(ctx, params.ServerID)
	if err != nil {
		return nil, err
	}
	if params.Plan.Security == inboundcfg.SecurityReality && !cl.srv.RealityCapable {
		return nil, &inboundcfg.ValidationError{Field: "security", Reason: "server " + cl.srv.Name + " does not support reality"}
	}

	unlock := s.locks.lock(params.ServerID)
	created, err := s.addInbound(ctx, cl, params)
	unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("inbound created", "server", cl.srv.Name, "inbound_id", created.ID, "port", created.Port, "protocol", created.Protocol)
	s.refreshMirror(ctx, cl)
	return created, nil
}

func (s *Service) addInbound(ctx context.Context, cl *call, params CreateInboundParams) (*panel.Inbound, error) {
	var certs inboundcfg.CertSource
	if cl.caps.X25519Cert {
		certs = cl.c
	}
	cfg, err := s.builder.Build(ctx, certs, params.Plan)
	if err != nil {
		return nil, err
	}
	in, err := cfg.Inbound(params.Port, params.Remark)
	if err != nil {
		return nil, err
	}
	return cl.c.AddInbound(ctx, in)
}

// Link computes the connection link of a client from a fresh read.
func (s *Service) Link(ctx context.Context, t Target, credential string, bypass bool) (string, error) {
	cl, err := s.open(ctx, t.ServerID)
	if err != nil {
		return "", err
	}
	in, err := cl.c.FindInbound(ctx, t.InboundID, t.Port)
	if err != nil {
		return "", err
	}
	_, _, o, err := findClient(cl.srv, in, credential)
	if err != nil {
		return "", err
	}
	return clientLink(cl.srv, in, o, bypass)
}

// Inbounds lists the server's inbounds as the panel reports them.
func (s *Service) Inbounds(ctx context.Context, serverID int64) ([]panel.Inbound, error) {
	cl, err := s.open(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return cl.c.ListInbounds(ctx)
}

// SyncServer mirrors the server's remote inbounds locally. A failed read
// leaves the mirror as it is.
func (s *Service) SyncServer(ctx context.Context, serverID int64) (_ mirror.WriteStats, err error) {
	defer func() { observe("sync_server", err) }()

	if s.mirror == nil {
		return mirror.WriteStats{}, errors.New("mirror is not configured")
	}
	inbounds, err := s.Inbounds(ctx, serverID)
	if err != nil {
		return mirror.WriteStats{}, err
	}
	return s.mirror.Sync(ctx, serverID, inbounds)
}
