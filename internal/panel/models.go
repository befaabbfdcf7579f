package panel

import (
	"net/url"
	"strings"
	"time"
)

type Variant string

const (
	VariantClassic Variant = "classic"
	VariantSanaei  Variant = "sanaei"
	VariantAlireza Variant = "alireza"
	VariantMarzban Variant = "marzban"
)

func (v Variant) Valid() bool {
	switch v {
	case VariantClassic, VariantSanaei, VariantAlireza, VariantMarzban:
		return true
	}
	return false
}

type Protocol string

const (
	ProtocolVLESS  Protocol = "vless"
	ProtocolVMess  Protocol = "vmess"
	ProtocolTrojan Protocol = "trojan"
)

// CredentialKey is the settings.clients field that carries the credential.
func (p Protocol) CredentialKey() string {
	if p == ProtocolTrojan {
		return "password"
	}
	return "id"
}

// Server is an operator-configured panel.
type Server struct {
	ID             int64
	Name           string
	BaseURL        string
	PublicHost     string
	Username       string
	Password       string
	Variant        Variant
	RealityCapable bool
	TLSInsecure    bool
}

// String never includes credentials.
func (s Server) String() string {
	return s.Name + " (" + s.BaseURL + ")"
}

// LinkHost is the host put into connection links: PublicHost when set,
// otherwise the panel host without port.
func (s Server) LinkHost() string {
	if s.PublicHost != "" {
		return s.PublicHost
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (s Server) endpoint(path string) string {
	return strings.TrimSuffix(s.BaseURL, "/") + path
}

// Session is a cached login. It has no TTL; it lives until a call rejects it.
type Session struct {
	ServerID   int64
	CookieName string
	Token      string
	CapturedAt time.Time
}

// Inbound is the inbound record as the x-ui family serves it.
type Inbound struct {
	ID             int          `json:"id"`
	Up             int64        `json:"up"`
	Down           int64        `json:"down"`
	Total          int64        `json:"total"`
	Remark         string       `json:"remark"`
	Enable         bool         `json:"enable"`
	ExpiryTime     int64        `json:"expiryTime"`
	ClientStats    []ClientStat `json:"clientStats"`
	Listen         string       `json:"listen"`
	Port           int          `json:"port"`
	Protocol       Protocol     `json:"protocol"`
	Settings       string       `json:"settings"`
	StreamSettings string       `json:"streamSettings"`
	Tag            string       `json:"tag"`
	Sniffing       string       `json:"sniffing"`
}

// Stat returns the traffic counters the panel keeps for email.
func (in Inbound) Stat(email string) (ClientStat, bool) {
	for _, st := range in.ClientStats {
		if st.Email == email {
			return st, true
		}
	}
	return ClientStat{}, false
}

type ClientStat struct {
	ID         int    `json:"id"`
	InboundID  int    `json:"inboundId"`
	Enable     bool   `json:"enable"`
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	ExpiryTime int64  `json:"expiryTime"`
	Total      int64  `json:"total"`
}

// Client is a decoded settings.clients entry. TotalGB holds bytes, as the
// panels do despite the name.
type Client struct {
	ID         string `json:"id,omitempty"`
	Password   string `json:"password,omitempty"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp,omitempty"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     *bool  `json:"enable,omitempty"`
	TgID       any    `json:"tgId,omitempty"`
	SubID      string `json:"subId,omitempty"`
}

func (c Client) Credential(p Protocol) string {
	if p == ProtocolTrojan {
		return c.Password
	}
	return c.ID
}

// Enabled treats a missing enable field as enabled.
func (c Client) Enabled() bool {
	return c.Enable == nil || *c.Enable
}

type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// Capabilities describes which operations and client fields a variant has.
type Capabilities struct {
	PartialClients bool
	InboundWrite   bool
	ClientEnable   bool
	SubID          bool
	LimitIP        bool
	TgID           bool
	ResetTraffic   bool
	ResetIPs       bool
	X25519Cert     bool
}
