package inboundcfg

import (
	"kurut-provisioner/internal/panel"
)

type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportWS   Transport = "ws"
	TransportGRPC Transport = "grpc"
	TransportKCP  Transport = "kcp"
)

type Security string

const (
	SecurityNone    Security = "none"
	SecurityTLS     Security = "tls"
	SecurityXTLS    Security = "xtls"
	SecurityReality Security = "reality"
)

const (
	HeaderNone = "none"
	HeaderHTTP = "http"
)

const (
	DefaultRealityDest        = "yahoo.com:443"
	DefaultRealityFingerprint = "firefox"
	DefaultRealitySpiderX     = "/"
	ShortIDLength             = 8
	SubIDLength               = 16
)

// DefaultRealityServerNames is used when a plan names neither dest nor
// server names.
var DefaultRealityServerNames = []string{"yahoo.com", "www.yahoo.com"}

// Header is one configured key/value override for http header obfuscation.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

type RealityParams struct {
	Dest        string   `yaml:"dest" json:"dest,omitempty"`
	ServerNames []string `yaml:"server_names" json:"serverNames,omitempty"`
	SpiderX     string   `yaml:"spider_x" json:"spiderX,omitempty"`
	Fingerprint string   `yaml:"fingerprint" json:"fingerprint,omitempty"`
}

type TLSParams struct {
	ServerName  string   `yaml:"server_name" json:"serverName,omitempty"`
	CertFile    string   `yaml:"cert_file" json:"certFile,omitempty"`
	KeyFile     string   `yaml:"key_file" json:"keyFile,omitempty"`
	ALPN        []string `yaml:"alpn" json:"alpn,omitempty"`
	Fingerprint string   `yaml:"fingerprint" json:"fingerprint,omitempty"`
}

// PlanParams is everything a plan says about the accounts it provisions.
type PlanParams struct {
	Protocol  panel.Protocol `yaml:"protocol" json:"protocol"`
	Transport Transport      `yaml:"transport" json:"transport"`
	Security  Security       `yaml:"security" json:"security"`
	Days      int            `yaml:"days" json:"days"`
	VolumeGiB float64        `yaml:"volume_gib" json:"volumeGiB"`
	Flow      string         `yaml:"flow" json:"flow,omitempty"`
	LimitIP   int            `yaml:"limit_ip" json:"limitIp,omitempty"`

	HeaderType      string   `yaml:"header_type" json:"headerType,omitempty"`
	RequestHeaders  []Header `yaml:"request_headers" json:"requestHeaders,omitempty"`
	ResponseHeaders []Header `yaml:"response_headers" json:"responseHeaders,omitempty"`
	Path            string   `yaml:"path" json:"path,omitempty"`
	Host            string   `yaml:"host" json:"host,omitempty"`
	ServiceName     string   `yaml:"service_name" json:"serviceName,omitempty"`
	KCPSeed         string   `yaml:"kcp_seed" json:"kcpSeed,omitempty"`

	Reality RealityParams `yaml:"reality" json:"reality"`
	TLS     TLSParams     `yaml:"tls" json:"tls"`
}

// InboundSettings is the settings blob of a freshly built inbound.
type InboundSettings struct {
	Clients    []*panel.Object `json:"clients"`
	Decryption string          `json:"decryption,omitempty"`
	Fallbacks  *[]Fallback     `json:"fallbacks,omitempty"`
}

type Fallback struct {
	Name string `json:"name,omitempty"`
	Alpn string `json:"alpn,omitempty"`
	Path string `json:"path,omitempty"`
	Dest string `json:"dest"`
	Xver int    `json:"xver"`
}

type StreamSettings struct {
	Network         Transport        `json:"network"`
	Security        Security         `json:"security"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	XTLSSettings    *TLSSettings     `json:"xtlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	TCPSettings     *TCPSettings     `json:"tcpSettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	KCPSettings     *KCPSettings     `json:"kcpSettings,omitempty"`
}

type TLSSettings struct {
	ServerName   string             `json:"serverName"`
	ALPN         []string           `json:"alpn,omitempty"`
	Certificates []Certificate      `json:"certificates"`
	Settings     *TLSClientSettings `json:"settings,omitempty"`
}

type Certificate struct {
	CertificateFile string `json:"certificateFile"`
	KeyFile         string `json:"keyFile"`
}

type TLSClientSettings struct {
	AllowInsecure bool   `json:"allowInsecure"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	ServerName    string `json:"serverName,omitempty"`
}

type RealitySettings struct {
	Show        bool                  `json:"show"`
	Xver        int                   `json:"xver"`
	Dest        string                `json:"dest"`
	ServerNames []string              `json:"serverNames"`
	PrivateKey  string                `json:"privateKey"`
	ShortIDs    []string              `json:"shortIds"`
	Settings    RealityClientSettings `json:"settings"`
}

type RealityClientSettings struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
	ServerName  string `json:"serverName"`
	SpiderX     string `json:"spiderX"`
}

type TCPSettings struct {
	AcceptProxyProtocol bool      `json:"acceptProxyProtocol"`
	Header              TCPHeader `json:"header"`
}

type TCPHeader struct {
	Type     string        `json:"type"`
	Request  *HTTPRequest  `json:"request,omitempty"`
	Response *HTTPResponse `json:"response,omitempty"`
}

type HTTPRequest struct {
	Version string              `json:"version"`
	Method  string              `json:"method"`
	Path    []string            `json:"path"`
	Headers map[string][]string `json:"headers"`
}

type HTTPResponse struct {
	Version string              `json:"version"`
	Status  string              `json:"status"`
	Reason  string              `json:"reason"`
	Headers map[string][]string `json:"headers"`
}

type WSSettings struct {
	AcceptProxyProtocol bool              `json:"acceptProxyProtocol"`
	Path                string            `json:"path"`
	Headers             map[string]string `json:"headers"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   *bool  `json:"multiMode,omitempty"`
}

type KCPSettings struct {
	MTU              int       `json:"mtu"`
	TTI              int       `json:"tti"`
	UplinkCapacity   int       `json:"uplinkCapacity"`
	DownlinkCapacity int       `json:"downlinkCapacity"`
	Congestion       bool      `json:"congestion"`
	ReadBufferSize   int       `json:"readBufferSize"`
	WriteBufferSize  int       `json:"writeBufferSize"`
	Header           KCPHeader `json:"header"`
	Seed             string    `json:"seed"`
}

type KCPHeader struct {
	Type string `json:"type"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

// InboundConfig is the output of Build: the three blobs of a new inbound.
type InboundConfig struct {
	Protocol panel.Protocol
	Settings InboundSettings
	Stream   StreamSettings
	Sniffing Sniffing
	// KeyPair is set for reality inbounds.
	KeyPair *panel.KeyPair
}

// ClientOptions are the per-account values of a new client entry.
type ClientOptions struct {
	Email      string
	Flow       string
	LimitIP    int
	TotalBytes int64
	ExpiryTime int64
}
