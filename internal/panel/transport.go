package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) kurut-provisioner/1.0"
	defaultAccept         = "application/json, text/plain, */*"
	defaultLoginTimeout   = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 32 << 20
)

type TransportConfig struct {
	LoginTimeout   time.Duration
	RequestTimeout time.Duration
	UserAgent      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Transport is the single HTTP helper every variant goes through. It owns the
// header set, timeouts, per-server rate limiting and error classification.
type Transport struct {
	cfg      TransportConfig
	secure   *http.Client
	insecure *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewTransport(cfg TransportConfig, logger *slog.Logger) *Transport {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Transport{
		cfg:      cfg,
		secure:   newHTTPClient(false),
		insecure: newHTTPClient(true),
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func newHTTPClient(skipVerify bool) *http.Client {
	tr := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig: &tls.Config{ //nolint:gosec // opt-in per server for self-signed panels
			InsecureSkipVerify: skipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		// Panels answer an expired session with a redirect to the login page.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type request struct {
	op      string
	method  string
	path    string
	form    url.Values
	body    any
	session *Session
	bearer  string
	login   bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (t *Transport) limiter(serverID int64) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[serverID]
	if !ok {
		limit := rate.Inf
		if t.cfg.RateLimitRPS > 0 {
			limit = rate.Limit(t.cfg.RateLimitRPS)
		}
		burst := t.cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		t.limiters[serverID] = l
	}
	return l
}

func (t *Transport) do(ctx context.Context, srv Server, variant Variant, req request) (*response, error) {
	start := time.Now()
	resp, err := t.roundTrip(ctx, srv, req)
	outcome := "ok"
	switch {
	case err == nil:
	case IsAuth(err):
		outcome = "auth"
	case IsNetwork(err):
		outcome = "network"
	default:
		outcome = "error"
	}
	requestsTotal.WithLabelValues(string(variant), req.op, outcome).Inc()
	requestDuration.WithLabelValues(string(variant), req.op).Observe(time.Since(start).Seconds())
	return resp, err
}

func (t *Transport) roundTrip(ctx context.Context, srv Server, req request) (*response, error) {
	timeout := t.cfg.RequestTimeout
	if req.login {
		timeout = t.cfg.LoginTimeout
	}
	// Only the timeout ends a call; a cancelled caller ignores the late result.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := t.limiter(srv.ID).Wait(ctx); err != nil {
		return nil, &NetworkError{Server: srv.Name, Op: req.op, Err: err}
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded; charset=UTF-8"
	case req.body != nil:
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.op, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	method := req.method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, srv.endpoint(req.path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("User-Agent", t.cfg.UserAgent)
	httpReq.Header.Set("Accept", defaultAccept)
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.session != nil && req.session.Token != "" {
		name := req.session.CookieName
		if name == "" {
			name = "session"
		}
		httpReq.AddCookie(&http.Cookie{Name: name, Value: req.session.Token})
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	client := t.secure
	if srv.TLSInsecure {
		client = t.insecure
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Server: srv.Name, Op: req.op, Err: errors.New(Redact(err.Error(), srv.Password))}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Server: srv.Name, Op: req.op, Err: err}
	}

	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}
	if !req.login {
		switch {
		case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
			return nil, &AuthError{Server: srv.Name, Reason: fmt.Sprintf("http %d", resp.status), Rejected: true}
		case resp.status >= 300 && resp.status < 400:
			return nil, &AuthError{Server: srv.Name, Reason: "redirected to login", Rejected: true}
		}
	}
	if resp.status == http.StatusNotFound {
		return nil, &NotFoundError{Server: srv.Name, Kind: "endpoint", Key: req.path}
	}
	if resp.status >= 500 {
		return nil, &APIError{Server: srv.Name, Op: req.op, Status: resp.status}
	}
	return resp, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// decodeEnvelope parses the {success,msg,obj} body of the x-ui family. A body
// that is not JSON at all means the panel served its login page instead.
func decodeEnvelope(srv Server, op string, resp *response) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		trimmed := bytes.TrimSpace(resp.body)
		if len(trimmed) > 0 && trimmed[0] == '<' {
			return nil, &AuthError{Server: srv.Name, Reason: "login page returned", Rejected: true}
		}
		return nil, &APIError{Server: srv.Name, Op: op, Status: resp.status, Msg: "malformed response"}
	}
	if !env.Success {
		return nil, &APIError{Server: srv.Name, Op: op, Status: resp.status, Msg: Redact(env.Msg, srv.Password)}
	}
	return &env, nil
}
