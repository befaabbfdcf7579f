package panel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// marzban talks to the user-centric Marzban API. Inbounds are read-only tags
// there; a "client" of an inbound is a user whose inbounds include the tag.
type marzban struct {
	t   *Transport
	now func() time.Time
}

func newMarzban(t *Transport) *marzban {
	return &marzban{t: t, now: time.Now}
}

func (m *marzban) Variant() Variant { return VariantMarzban }

func (m *marzban) Capabilities() Capabilities {
	return Capabilities{PartialClients: true, ClientEnable: true, ResetTraffic: true}
}

func (m *marzban) Login(ctx context.Context, srv Server) (*Session, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", srv.Username)
	form.Set("password", srv.Password)

	resp, err := m.t.do(ctx, srv, VariantMarzban, request{op: "login", path: "/api/admin/token", form: form, login: true})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &AuthError{Server: srv.Name, Reason: fmt.Sprintf("http %d", resp.status)}
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil || body.AccessToken == "" {
		return nil, &AuthError{Server: srv.Name, Reason: "no access token in login response"}
	}
	return &Session{ServerID: srv.ID, Token: body.AccessToken, CapturedAt: m.now()}, nil
}

func (m *marzban) call(ctx context.Context, srv Server, sess *Session, req request) (*response, error) {
	req.bearer = sess.Token
	resp, err := m.t.do(ctx, srv, VariantMarzban, req)
	if err != nil {
		return nil, err
	}
	if resp.status/100 != 2 {
		var detail struct {
			Detail any `json:"detail"`
		}
		_ = json.Unmarshal(resp.body, &detail)
		msg := ""
		if detail.Detail != nil {
			msg = fmt.Sprint(detail.Detail)
		}
		return nil, &APIError{Server: srv.Name, Op: req.op, Status: resp.status, Msg: msg}
	}
	return resp, nil
}

type marzbanInbound struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
	Network  string `json:"network"`
	TLS      string `json:"tls"`
	Port     int    `json:"port"`
}

type marzbanUser struct {
	Username    string                       `json:"username"`
	Status      string                       `json:"status"`
	UsedTraffic int64                        `json:"used_traffic"`
	DataLimit   *int64                       `json:"data_limit"`
	Expire      *int64                       `json:"expire"`
	Proxies     map[string]map[string]string `json:"proxies"`
	Inbounds    map[string][]string          `json:"inbounds"`
}

func (m *marzban) ListInbounds(ctx context.Context, srv Server, sess *Session) ([]Inbound, error) {
	resp, err := m.call(ctx, srv, sess, request{op: "list_inbounds", method: http.MethodGet, path: "/api/inbounds"})
	if err != nil {
		return nil, err
	}
	var byProto map[string][]marzbanInbound
	if err := json.Unmarshal(resp.body, &byProto); err != nil {
		return nil, &APIError{Server: srv.Name, Op: "list_inbounds", Status: resp.status, Msg: "malformed inbound list"}
	}

	resp, err = m.call(ctx, srv, sess, request{op: "list_users", method: http.MethodGet, path: "/api/users"})
	if err != nil {
		return nil, err
	}
	var users struct {
		Users []marzbanUser `json:"users"`
	}
	if err := json.Unmarshal(resp.body, &users); err != nil {
		return nil, &APIError{Server: srv.Name, Op: "list_users", Status: resp.status, Msg: "malformed user list"}
	}

	protocols := make([]string, 0, len(byProto))
	for p := range byProto {
		protocols = append(protocols, p)
	}
	sort.Strings(protocols)

	var out []Inbound
	for _, proto := range protocols {
		for _, mi := range byProto[proto] {
			in, err := m.synthesize(len(out)+1, proto, mi, users.Users)
			if err != nil {
				return nil, err
			}
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *marzban) synthesize(id int, proto string, mi marzbanInbound, users []marzbanUser) (Inbound, error) {
	p := Protocol(proto)
	security := mi.TLS
	if security == "" {
		security = "none"
	}
	stream := NewObject()
	stream.SetString("network", mi.Network)
	stream.SetString("security", security)
	streamRaw, _ := stream.MarshalJSON()

	in := Inbound{
		ID:             id,
		Remark:         mi.Tag,
		Enable:         true,
		Port:           mi.Port,
		Protocol:       p,
		Tag:            mi.Tag,
		StreamSettings: string(streamRaw),
	}

	var clients []*Object
	for _, u := range users {
		if !containsTag(u.Inbounds[proto], mi.Tag) {
			continue
		}
		proxy := u.Proxies[proto]
		c := NewObject()
		c.SetString(p.CredentialKey(), proxy[p.CredentialKey()])
		if flow := proxy["flow"]; flow != "" {
			c.SetString("flow", flow)
		}
		c.SetString("email", u.Username)
		var limit, expiry int64
		if u.DataLimit != nil {
			limit = *u.DataLimit
		}
		if u.Expire != nil {
			expiry = *u.Expire * 1000
		}
		c.SetInt64("totalGB", limit)
		c.SetInt64("expiryTime", expiry)
		c.SetBool("enable", u.Status == "active")
		clients = append(clients, c)

		in.ClientStats = append(in.ClientStats, ClientStat{
			InboundID:  id,
			Enable:     u.Status == "active",
			Email:      u.Username,
			Down:       u.UsedTraffic,
			ExpiryTime: expiry,
			Total:      limit,
		})
	}
	settings, err := ClientsOnly(clients...)
	if err != nil {
		return Inbound{}, err
	}
	in.Settings = settings
	return in, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

type marzbanUserBody struct {
	Username  string                       `json:"username,omitempty"`
	Proxies   map[string]map[string]string `json:"proxies,omitempty"`
	Inbounds  map[string][]string          `json:"inbounds,omitempty"`
	Expire    *int64                       `json:"expire"`
	DataLimit int64                        `json:"data_limit"`
	Status    string                       `json:"status,omitempty"`
}

func marzbanBody(in Inbound, c Client, withInbounds bool) marzbanUserBody {
	proto := string(in.Protocol)
	proxy := map[string]string{in.Protocol.CredentialKey(): c.Credential(in.Protocol)}
	if c.Flow != "" {
		proxy["flow"] = c.Flow
	}
	body := marzbanUserBody{
		Proxies:   map[string]map[string]string{proto: proxy},
		DataLimit: c.TotalGB,
		Status:    "active",
	}
	if !c.Enabled() {
		body.Status = "disabled"
	}
	if c.ExpiryTime > 0 {
		sec := c.ExpiryTime / 1000
		body.Expire = &sec
	}
	if withInbounds {
		body.Username = c.Email
		body.Inbounds = map[string][]string{proto: {in.Tag}}
	}
	return body
}

func (m *marzban) AddClients(ctx context.Context, srv Server, sess *Session, in Inbound, clients ...*Object) error {
	for _, o := range clients {
		c, err := DecodeClient(o)
		if err != nil {
			return err
		}
		if _, err := m.call(ctx, srv, sess, request{op: "add_client", path: "/api/user", body: marzbanBody(in, c, true)}); err != nil {
			return err
		}
	}
	return nil
}

func (m *marzban) UpdateClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string, o *Object) error {
	c, err := DecodeClient(o)
	if err != nil {
		return err
	}
	_, err = m.call(ctx, srv, sess, request{
		op:     "update_client",
		method: http.MethodPut,
		path:   "/api/user/" + url.PathEscape(c.Email),
		body:   marzbanBody(in, c, false),
	})
	return err
}

func (m *marzban) DeleteClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string) error {
	settings, err := ParseSettings(in.Settings)
	if err != nil {
		return err
	}
	_, o := settings.Find(in.Protocol, credential)
	if o == nil {
		return &NotFoundError{Server: srv.Name, Kind: "client", Key: "in inbound " + in.Tag}
	}
	_, err = m.call(ctx, srv, sess, request{
		op:     "delete_client",
		method: http.MethodDelete,
		path:   "/api/user/" + url.PathEscape(o.String("email")),
	})
	return err
}

func (m *marzban) ResetClientTraffic(ctx context.Context, srv Server, sess *Session, in Inbound, email string) error {
	_, err := m.call(ctx, srv, sess, request{op: "reset_traffic", path: "/api/user/" + url.PathEscape(email) + "/reset"})
	return err
}

func (m *marzban) SubmitInbound(context.Context, Server, *Session, Inbound) error {
	return ErrUnsupported
}

func (m *marzban) AddInbound(context.Context, Server, *Session, Inbound) (*Inbound, error) {
	return nil, ErrUnsupported
}

func (m *marzban) ClearClientIPs(context.Context, Server, *Session, string) error {
	return ErrUnsupported
}

func (m *marzban) NewX25519Cert(context.Context, Server, *Session) (*KeyPair, error) {
	return nil, ErrUnsupported
}
