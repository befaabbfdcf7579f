package main

import (
	"context"
	"errors"
	"flag"

	"github.com/samber/lo"

	environment "kurut-provisioner/internal/env"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/clients"
	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/servers"
	"kurut-provisioner/internal/workers/mirrorsync"
)

type targetFlags struct {
	server  int64
	inbound int
	port    int
	cred    string
}

func bindTarget(fs *flag.FlagSet) *targetFlags {
	t := &targetFlags{}
	fs.Int64Var(&t.server, "server", 0, "panel server id")
	fs.IntVar(&t.inbound, "inbound", 0, "remote inbound id")
	fs.IntVar(&t.port, "port", 0, "inbound port, used when -inbound is not set")
	fs.StringVar(&t.cred, "cred", "", "client credential (uuid or trojan password)")
	return t
}

func (t *targetFlags) target(needCred bool) (clients.Target, error) {
	if t.server == 0 {
		return clients.Target{}, errors.New("-server is required")
	}
	if t.inbound == 0 && t.port == 0 {
		return clients.Target{}, errors.New("-inbound or -port is required")
	}
	if needCred && t.cred == "" {
		return clients.Target{}, errors.New("-cred is required")
	}
	return clients.Target{ServerID: t.server, InboundID: t.inbound, Port: t.port}, nil
}

type serverView struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	BaseURL        string        `json:"baseUrl"`
	PublicHost     string        `json:"publicHost,omitempty"`
	Variant        panel.Variant `json:"variant"`
	RealityCapable bool          `json:"realityCapable"`
	TLSInsecure    bool          `json:"tlsInsecure"`
}

func listServers(ctx context.Context, env *environment.Env, _ []string) (any, error) {
	list, err := env.Services.Servers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(list, func(s *servers.Server, _ int) serverView {
		return serverView{
			ID:             s.ID,
			Name:           s.Name,
			BaseURL:        s.BaseURL,
			PublicHost:     s.PublicHost,
			Variant:        s.Variant,
			RealityCapable: s.RealityCapable,
			TLSInsecure:    s.TLSInsecure,
		}
	}), nil
}

func listPlans(ctx context.Context, env *environment.Env, _ []string) (any, error) {
	return env.Services.Plans.GetActivePlans(ctx)
}

func listInbounds(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("inbounds")
	server := fs.Int64("server", 0, "panel server id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return env.Services.Clients.Inbounds(ctx, *server)
}

func createInbound(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("create-inbound")
	server := fs.Int64("server", 0, "panel server id")
	planID := fs.Int64("plan", 0, "plan id")
	port := fs.Int("port", 0, "listen port")
	remark := fs.String("remark", "", "inbound remark")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	params, err := env.Services.Plans.Params(ctx, *planID)
	if err != nil {
		return nil, err
	}
	return env.Services.Clients.CreateInbound(ctx, clients.CreateInboundParams{
		ServerID: *server,
		Plan:     params,
		Port:     *port,
		Remark:   *remark,
	})
}

type slotView struct {
	Email      string `json:"email"`
	Credential string `json:"credential"`
	SubID      string `json:"subId,omitempty"`
	Link       string `json:"link,omitempty"`
	Error      string `json:"error,omitempty"`
}

func addClients(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("add")
	t := bindTarget(fs)
	planID := fs.Int64("plan", 0, "plan id")
	count := fs.Int("count", 1, "number of accounts")
	label := fs.String("label", "", "email prefix")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(false)
	if err != nil {
		return nil, err
	}
	params, err := env.Services.Plans.Params(ctx, *planID)
	if err != nil {
		return nil, err
	}

	result, err := env.Services.Clients.AddClient(ctx, clients.AddParams{
		Target: target,
		Plan:   params,
		Count:  *count,
		Label:  *label,
	})
	if result == nil {
		return nil, err
	}
	return lo.Map(result.Slots, func(s clients.SlotResult, _ int) slotView {
		v := slotView{Email: s.Email, Credential: s.Credential, SubID: s.SubID, Link: s.Link}
		if s.Err != nil {
			v.Error = s.Err.Error()
			v.Credential = ""
		}
		return v
	}), err
}

func deleteClient(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("delete")
	t := bindTarget(fs)
	purge := fs.Bool("purge", false, "remove the client from the panel")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	snap, err := env.Services.Clients.DeleteClient(ctx, target, t.cred, *purge)
	if snap == nil {
		return nil, err
	}
	return snap, err
}

func toggleClient(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("toggle")
	t := bindTarget(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	return env.Services.Clients.ToggleEnable(ctx, target, t.cred)
}

func renewUUID(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("renew-uuid")
	t := bindTarget(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	cred, err := env.Services.Clients.RenewUUID(ctx, target, t.cred)
	if err != nil {
		return nil, err
	}
	return map[string]string{"credential": cred}, nil
}

func extendTraffic(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("traffic")
	t := bindTarget(fs)
	gib := fs.Float64("gib", 0, "traffic in GiB")
	mode := fs.String("mode", string(clients.ModeExtend), "extend or renew")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	return env.Services.Clients.ExtendTraffic(ctx, target, t.cred, *gib, clients.Mode(*mode))
}

func editExpiry(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("expiry")
	t := bindTarget(fs)
	days := fs.Int("days", 0, "days to add")
	mode := fs.String("mode", string(clients.ModeExtend), "extend or renew")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	return env.Services.Clients.EditExpiry(ctx, target, t.cred, *days, clients.Mode(*mode))
}

func clientLink(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("link")
	t := bindTarget(fs)
	bypass := fs.Bool("bypass", false, "front-domain link")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	target, err := t.target(true)
	if err != nil {
		return nil, err
	}
	link, err := env.Services.Clients.Link(ctx, target, t.cred, *bypass)
	if err != nil {
		return nil, err
	}
	return map[string]string{"link": link}, nil
}

func syncMirror(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("sync")
	server := fs.Int64("server", 0, "panel server id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *server != 0 {
		return env.Services.Clients.SyncServer(ctx, *server)
	}
	w := mirrorsync.NewWorker(env.Services.Servers, env.Services.Clients, env.Config.Sync.Schedule, env.Config.Sync.Concurrency, env.Logger)
	return w.RunOnce(ctx)
}

func listMirror(ctx context.Context, env *environment.Env, args []string) (any, error) {
	fs := newFlags("mirror")
	server := fs.Int64("server", 0, "panel server id")
	removed := fs.Bool("removed", false, "include purged clients")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *server == 0 {
		return nil, errors.New("-server is required")
	}
	return env.Services.Mirror.Clients(ctx, mirror.ClientCriteria{ServerID: server, IncludeRemoved: *removed})
}
