package panel

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// SessionManager caches one session per server and shares a single login
// between concurrent callers.
type SessionManager struct {
	adapters map[Variant]Adapter
	sessions *cache.Cache
	group    singleflight.Group
	logger   *slog.Logger
}

func NewSessionManager(t *Transport, logger *slog.Logger) *SessionManager {
	m := &SessionManager{
		adapters: make(map[Variant]Adapter),
		sessions: cache.New(cache.NoExpiration, 0),
		logger:   logger,
	}
	for _, v := range []Variant{VariantClassic, VariantSanaei, VariantAlireza, VariantMarzban} {
		m.adapters[v] = NewAdapter(v, t)
	}
	return m
}

func sessionKey(serverID int64) string {
	return strconv.FormatInt(serverID, 10)
}

func (m *SessionManager) adapter(srv Server) (Adapter, error) {
	a, ok := m.adapters[srv.Variant]
	if !ok || a == nil {
		return nil, &AuthError{Server: srv.Name, Reason: "unknown panel variant " + string(srv.Variant)}
	}
	return a, nil
}

// Acquire returns the cached session or logs in.
func (m *SessionManager) Acquire(ctx context.Context, srv Server) (*Session, error) {
	key := sessionKey(srv.ID)
	if v, ok := m.sessions.Get(key); ok {
		return v.(*Session), nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.sessions.Get(key); ok {
			return v, nil
		}
		a, err := m.adapter(srv)
		if err != nil {
			return nil, err
		}
		sess, err := a.Login(ctx, srv)
		if err != nil {
			return nil, err
		}
		m.sessions.Set(key, sess, cache.NoExpiration)
		m.logger.Debug("panel session acquired", "server", srv.Name, "variant", srv.Variant)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *SessionManager) Invalidate(serverID int64) {
	m.sessions.Delete(sessionKey(serverID))
}

// Do runs fn with a session. When fn fails with an authentication error the
// session is dropped and fn is retried once with a fresh login.
func (m *SessionManager) Do(ctx context.Context, srv Server, fn func(*Session) error) error {
	sess, err := m.Acquire(ctx, srv)
	if err != nil {
		return err
	}
	err = fn(sess)
	if !IsAuth(err) {
		return err
	}

	m.logger.Info("panel session rejected, logging in again", "server", srv.Name)
	m.Invalidate(srv.ID)
	sess, err = m.Acquire(ctx, srv)
	if err != nil {
		return err
	}
	return fn(sess)
}
