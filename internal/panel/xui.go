package panel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// xui covers the x-ui family. The classic flavor lives under /xui and only
// accepts full inbound rewrites; sanaei and alireza live under /panel and
// have per-client endpoints.
type xui struct {
	variant Variant
	t       *Transport
	base    string
	caps    Capabilities
	now     func() time.Time
}

func newXUI(v Variant, t *Transport, base string, caps Capabilities) *xui {
	return &xui{variant: v, t: t, base: base, caps: caps, now: time.Now}
}

func (x *xui) Variant() Variant           { return x.variant }
func (x *xui) Capabilities() Capabilities { return x.caps }

var sessionCookieNames = []string{"session", "3x-ui", "x-ui"}

func (x *xui) Login(ctx context.Context, srv Server) (*Session, error) {
	form := url.Values{}
	form.Set("username", srv.Username)
	form.Set("password", srv.Password)

	resp, err := x.t.do(ctx, srv, x.variant, request{op: "login", path: "/login", form: form, login: true})
	if err != nil {
		return nil, err
	}

	var body struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, &AuthError{Server: srv.Name, Reason: fmt.Sprintf("unreadable login response (http %d)", resp.status)}
	}
	if !body.Success {
		reason := Redact(body.Msg, srv.Password)
		if reason == "" {
			reason = "login rejected"
		}
		return nil, &AuthError{Server: srv.Name, Reason: reason}
	}

	cookie := pickSessionCookie(resp.header)
	if cookie == nil {
		return nil, &AuthError{Server: srv.Name, Reason: "no session cookie in login response"}
	}
	return &Session{
		ServerID:   srv.ID,
		CookieName: cookie.Name,
		Token:      cookie.Value,
		CapturedAt: x.now(),
	}, nil
}

func pickSessionCookie(h http.Header) *http.Cookie {
	cookies := (&http.Response{Header: h}).Cookies()
	for _, name := range sessionCookieNames {
		for _, c := range cookies {
			if c.Name == name && c.Value != "" {
				return c
			}
		}
	}
	for _, c := range cookies {
		if c.Value != "" {
			return c
		}
	}
	return nil
}

func (x *xui) ListInbounds(ctx context.Context, srv Server, sess *Session) ([]Inbound, error) {
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "list_inbounds", path: x.base + "/inbound/list", session: sess})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(srv, "list_inbounds", resp)
	if err != nil {
		return nil, err
	}
	var inbounds []Inbound
	if len(env.Obj) > 0 && string(env.Obj) != "null" {
		if err := json.Unmarshal(env.Obj, &inbounds); err != nil {
			return nil, &APIError{Server: srv.Name, Op: "list_inbounds", Status: resp.status, Msg: "malformed inbound list"}
		}
	}
	return inbounds, nil
}

// inboundForm is the full-record encoding the update and add endpoints take.
func inboundForm(in Inbound) url.Values {
	form := url.Values{}
	form.Set("up", strconv.FormatInt(in.Up, 10))
	form.Set("down", strconv.FormatInt(in.Down, 10))
	form.Set("total", strconv.FormatInt(in.Total, 10))
	form.Set("remark", in.Remark)
	form.Set("enable", strconv.FormatBool(in.Enable))
	form.Set("expiryTime", strconv.FormatInt(in.ExpiryTime, 10))
	form.Set("listen", in.Listen)
	form.Set("port", strconv.Itoa(in.Port))
	form.Set("protocol", string(in.Protocol))
	form.Set("settings", in.Settings)
	form.Set("streamSettings", in.StreamSettings)
	form.Set("sniffing", in.Sniffing)
	return form
}

func (x *xui) SubmitInbound(ctx context.Context, srv Server, sess *Session, in Inbound) error {
	path := fmt.Sprintf("%s/inbound/update/%d", x.base, in.ID)
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "update_inbound", path: path, form: inboundForm(in), session: sess})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "update_inbound", resp)
	return err
}

func (x *xui) AddInbound(ctx context.Context, srv Server, sess *Session, in Inbound) (*Inbound, error) {
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "add_inbound", path: x.base + "/inbound/add", form: inboundForm(in), session: sess})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(srv, "add_inbound", resp)
	if err != nil {
		return nil, err
	}
	created := in
	if len(env.Obj) > 0 && string(env.Obj) != "null" {
		if err := json.Unmarshal(env.Obj, &created); err != nil {
			return nil, &APIError{Server: srv.Name, Op: "add_inbound", Status: resp.status, Msg: "malformed inbound"}
		}
	}
	return &created, nil
}

type clientsBody struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

func (x *xui) AddClients(ctx context.Context, srv Server, sess *Session, in Inbound, clients ...*Object) error {
	if !x.caps.PartialClients {
		return ErrUnsupported
	}
	settings, err := ClientsOnly(clients...)
	if err != nil {
		return err
	}
	resp, err := x.t.do(ctx, srv, x.variant, request{
		op:      "add_client",
		path:    x.base + "/inbound/addClient",
		body:    clientsBody{ID: in.ID, Settings: settings},
		session: sess,
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "add_client", resp)
	return err
}

func (x *xui) UpdateClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string, client *Object) error {
	if !x.caps.PartialClients {
		return ErrUnsupported
	}
	settings, err := ClientsOnly(client)
	if err != nil {
		return err
	}
	resp, err := x.t.do(ctx, srv, x.variant, request{
		op:      "update_client",
		path:    x.base + "/inbound/updateClient/" + url.PathEscape(credential),
		body:    clientsBody{ID: in.ID, Settings: settings},
		session: sess,
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "update_client", resp)
	return err
}

func (x *xui) DeleteClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string) error {
	if !x.caps.PartialClients {
		return ErrUnsupported
	}
	path := fmt.Sprintf("%s/inbound/%d/delClient/%s", x.base, in.ID, url.PathEscape(credential))
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "delete_client", path: path, session: sess})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "delete_client", resp)
	return err
}

func (x *xui) ResetClientTraffic(ctx context.Context, srv Server, sess *Session, in Inbound, email string) error {
	if !x.caps.ResetTraffic {
		return ErrUnsupported
	}
	path := fmt.Sprintf("%s/inbound/%d/resetClientTraffic/%s", x.base, in.ID, url.PathEscape(email))
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "reset_traffic", path: path, session: sess})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "reset_traffic", resp)
	return err
}

func (x *xui) ClearClientIPs(ctx context.Context, srv Server, sess *Session, email string) error {
	if !x.caps.ResetIPs {
		return ErrUnsupported
	}
	resp, err := x.t.do(ctx, srv, x.variant, request{
		op:      "clear_ips",
		path:    x.base + "/inbound/clearClientIps/" + url.PathEscape(email),
		session: sess,
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(srv, "clear_ips", resp)
	return err
}

func (x *xui) NewX25519Cert(ctx context.Context, srv Server, sess *Session) (*KeyPair, error) {
	if !x.caps.X25519Cert {
		return nil, ErrUnsupported
	}
	resp, err := x.t.do(ctx, srv, x.variant, request{op: "x25519_cert", path: "/server/getNewX25519Cert", session: sess})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(srv, "x25519_cert", resp)
	if err != nil {
		return nil, err
	}
	var kp KeyPair
	if err := json.Unmarshal(env.Obj, &kp); err != nil || kp.PublicKey == "" || kp.PrivateKey == "" {
		return nil, &APIError{Server: srv.Name, Op: "x25519_cert", Status: resp.status, Msg: "malformed keypair"}
	}
	return &kp, nil
}
