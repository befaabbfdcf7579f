package links

import (
	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
)

// Params is a fully resolved client endpoint. Empty fields are left out of
// the generated link.
type Params struct {
	Protocol    panel.Protocol
	Host        string
	Port        int
	Credential  string
	Transport   inboundcfg.Transport
	Security    inboundcfg.Security
	Path        string
	HostHeader  string
	HeaderType  string
	ServiceName string
	Seed        string
	SNI         string
	ALPN        []string
	Fingerprint string
	PublicKey   string
	ShortID     string
	SpiderX     string
	Flow        string
	Remark      string
}
