package panel

import (
	"context"
	"fmt"
)

// Conn binds a server to its adapter and routes every call through the
// session manager, so each call gets the single re-login retry.
type Conn struct {
	srv      Server
	adapter  Adapter
	sessions *SessionManager
}

// Factory opens Conns for configured servers.
type Factory struct {
	sessions *SessionManager
}

func NewFactory(sessions *SessionManager) *Factory {
	return &Factory{sessions: sessions}
}

func (f *Factory) Open(srv Server) (*Conn, error) {
	a, err := f.sessions.adapter(srv)
	if err != nil {
		return nil, err
	}
	return &Conn{srv: srv, adapter: a, sessions: f.sessions}, nil
}

func (c *Conn) Server() Server {
	return c.srv
}

func (c *Conn) Capabilities() Capabilities {
	return c.adapter.Capabilities()
}

// Ping forces a login, bypassing the cache.
func (c *Conn) Ping(ctx context.Context) error {
	c.sessions.Invalidate(c.srv.ID)
	_, err := c.sessions.Acquire(ctx, c.srv)
	return err
}

func (c *Conn) ListInbounds(ctx context.Context) ([]Inbound, error) {
	var out []Inbound
	err := c.sessions.Do(ctx, c.srv, func(s *Session) error {
		var err error
		out, err = c.adapter.ListInbounds(ctx, c.srv, s)
		return err
	})
	return out, err
}

// FindInbound lists the inbounds and picks the one with the given remote id,
// or when id is zero, the one listening on port.
func (c *Conn) FindInbound(ctx context.Context, id, port int) (*Inbound, error) {
	inbounds, err := c.ListInbounds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		if (id != 0 && inbounds[i].ID == id) || (id == 0 && port != 0 && inbounds[i].Port == port) {
			return &inbounds[i], nil
		}
	}
	key := fmt.Sprintf("id=%d", id)
	if id == 0 {
		key = fmt.Sprintf("port=%d", port)
	}
	return nil, &NotFoundError{Server: c.srv.Name, Kind: "inbound", Key: key}
}

func (c *Conn) SubmitInbound(ctx context.Context, in Inbound) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.SubmitInbound(ctx, c.srv, s, in)
	})
}

func (c *Conn) AddInbound(ctx context.Context, in Inbound) (*Inbound, error) {
	var out *Inbound
	err := c.sessions.Do(ctx, c.srv, func(s *Session) error {
		var err error
		out, err = c.adapter.AddInbound(ctx, c.srv, s, in)
		return err
	})
	return out, err
}

func (c *Conn) AddClients(ctx context.Context, in Inbound, clients ...*Object) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.AddClients(ctx, c.srv, s, in, clients...)
	})
}

func (c *Conn) UpdateClient(ctx context.Context, in Inbound, credential string, client *Object) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.UpdateClient(ctx, c.srv, s, in, credential, client)
	})
}

func (c *Conn) DeleteClient(ctx context.Context, in Inbound, credential string) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.DeleteClient(ctx, c.srv, s, in, credential)
	})
}

func (c *Conn) ResetClientTraffic(ctx context.Context, in Inbound, email string) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.ResetClientTraffic(ctx, c.srv, s, in, email)
	})
}

func (c *Conn) ClearClientIPs(ctx context.Context, email string) error {
	return c.sessions.Do(ctx, c.srv, func(s *Session) error {
		return c.adapter.ClearClientIPs(ctx, c.srv, s, email)
	})
}

func (c *Conn) NewX25519Cert(ctx context.Context) (*KeyPair, error) {
	var out *KeyPair
	err := c.sessions.Do(ctx, c.srv, func(s *Session) error {
		var err error
		out, err = c.adapter.NewX25519Cert(ctx, c.srv, s)
		return err
	})
	return out, err
}
