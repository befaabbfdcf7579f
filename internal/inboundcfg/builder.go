package inboundcfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"kurut-provisioner/internal/panel"
)

// CertSource issues reality keypairs; *panel.Conn is one.
type CertSource interface {
	NewX25519Cert(ctx context.Context) (*panel.KeyPair, error)
}

type Builder struct {
	creds  *Credentials
	logger *slog.Logger
}

func NewBuilder(creds *Credentials, logger *slog.Logger) *Builder {
	return &Builder{creds: creds, logger: logger}
}

// Build validates params and produces the settings, stream settings and
// sniffing blobs of a new inbound. For reality it asks certs for a keypair
// and falls back to a local one when certs is nil or the panel has no
// endpoint for it.
func (b *Builder) Build(ctx context.Context, certs CertSource, params PlanParams) (*InboundConfig, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	cfg := &InboundConfig{
		Protocol: params.Protocol,
		Settings: newSettings(params.Protocol),
		Stream:   StreamSettings{Network: params.Transport, Security: params.Security},
		Sniffing: Sniffing{Enabled: true, DestOverride: []string{"http", "tls", "quic"}},
	}

	switch params.Security {
	case SecurityTLS:
		cfg.Stream.TLSSettings = tlsSettings(params.TLS)
	case SecurityXTLS:
		cfg.Stream.XTLSSettings = tlsSettings(params.TLS)
	case SecurityReality:
		kp, err := b.keyPair(ctx, certs)
		if err != nil {
			return nil, err
		}
		cfg.KeyPair = kp
		cfg.Stream.RealitySettings = realitySettings(params.Reality, kp)
	}

	switch params.Transport {
	case TransportTCP:
		cfg.Stream.TCPSettings = tcpSettings(params)
	case TransportWS:
		cfg.Stream.WSSettings = wsSettings(params)
	case TransportGRPC:
		cfg.Stream.GRPCSettings = &GRPCSettings{ServiceName: params.ServiceName}
		if params.Security == SecurityReality {
			cfg.Stream.GRPCSettings.MultiMode = lo.ToPtr(false)
		}
	case TransportKCP:
		cfg.Stream.KCPSettings = kcpSettings(params)
	}

	return cfg, nil
}

func (b *Builder) keyPair(ctx context.Context, certs CertSource) (*panel.KeyPair, error) {
	if certs != nil {
		kp, err := certs.NewX25519Cert(ctx)
		if err == nil {
			return kp, nil
		}
		if !errors.Is(err, panel.ErrUnsupported) {
			return nil, fmt.Errorf("fetch reality keypair: %w", err)
		}
	}
	b.logger.Debug("panel has no keypair endpoint, generating reality keypair locally")
	return LocalKeyPair()
}

func newSettings(p panel.Protocol) InboundSettings {
	s := InboundSettings{Clients: []*panel.Object{}}
	switch p {
	case panel.ProtocolVLESS:
		s.Decryption = "none"
		s.Fallbacks = lo.ToPtr([]Fallback{})
	case panel.ProtocolTrojan:
		s.Fallbacks = lo.ToPtr([]Fallback{})
	}
	return s
}

func tlsSettings(p TLSParams) *TLSSettings {
	return &TLSSettings{
		ServerName:   p.ServerName,
		ALPN:         p.ALPN,
		Certificates: []Certificate{{CertificateFile: p.CertFile, KeyFile: p.KeyFile}},
		Settings: &TLSClientSettings{
			Fingerprint: p.Fingerprint,
			ServerName:  p.ServerName,
		},
	}
}

func realitySettings(p RealityParams, kp *panel.KeyPair) *RealitySettings {
	dest, names := p.Dest, p.ServerNames
	if dest == "" && len(names) == 0 {
		dest, names = DefaultRealityDest, DefaultRealityServerNames
	}
	if dest == "" {
		dest = names[0] + ":443"
	}
	fp := lo.Ternary(p.Fingerprint != "", p.Fingerprint, DefaultRealityFingerprint)
	spx := lo.Ternary(p.SpiderX != "", p.SpiderX, DefaultRealitySpiderX)

	return &RealitySettings{
		Dest:        dest,
		ServerNames: append([]string(nil), names...),
		PrivateKey:  kp.PrivateKey,
		ShortIDs:    []string{NewShortID()},
		Settings: RealityClientSettings{
			PublicKey:   kp.PublicKey,
			Fingerprint: fp,
			SpiderX:     spx,
		},
	}
}

func headerMap(hs []Header) map[string][]string {
	out := make(map[string][]string, len(hs))
	for _, h := range hs {
		out[h.Name] = append(out[h.Name], h.Value)
	}
	return out
}

func tcpSettings(p PlanParams) *TCPSettings {
	if p.HeaderType != HeaderHTTP {
		return &TCPSettings{Header: TCPHeader{Type: HeaderNone}}
	}
	path := lo.Ternary(p.Path != "", p.Path, "/")
	reqHeaders := headerMap(p.RequestHeaders)
	if p.Host != "" {
		if _, ok := reqHeaders["Host"]; !ok {
			reqHeaders["Host"] = []string{p.Host}
		}
	}
	return &TCPSettings{Header: TCPHeader{
		Type: HeaderHTTP,
		Request: &HTTPRequest{
			Version: "1.1",
			Method:  "GET",
			Path:    []string{path},
			Headers: reqHeaders,
		},
		Response: &HTTPResponse{
			Version: "1.1",
			Status:  "200",
			Reason:  "OK",
			Headers: headerMap(p.ResponseHeaders),
		},
	}}
}

func wsSettings(p PlanParams) *WSSettings {
	ws := &WSSettings{Path: lo.Ternary(p.Path != "", p.Path, "/"), Headers: map[string]string{}}
	for _, h := range p.RequestHeaders {
		ws.Headers[h.Name] = h.Value
	}
	if p.Host != "" {
		ws.Headers["Host"] = p.Host
	}
	return ws
}

func kcpSettings(p PlanParams) *KCPSettings {
	header := p.HeaderType
	if header == "" {
		header = HeaderNone
	}
	return &KCPSettings{
		MTU:              1350,
		TTI:              20,
		UplinkCapacity:   5,
		DownlinkCapacity: 20,
		ReadBufferSize:   2,
		WriteBufferSize:  2,
		Header:           KCPHeader{Type: header},
		Seed:             p.KCPSeed,
	}
}

// Inbound encodes cfg into the wire record the add endpoints take.
func (cfg *InboundConfig) Inbound(port int, remark string) (panel.Inbound, error) {
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return panel.Inbound{}, fmt.Errorf("encode settings: %w", err)
	}
	stream, err := json.Marshal(cfg.Stream)
	if err != nil {
		return panel.Inbound{}, fmt.Errorf("encode stream settings: %w", err)
	}
	sniffing, err := json.Marshal(cfg.Sniffing)
	if err != nil {
		return panel.Inbound{}, fmt.Errorf("encode sniffing: %w", err)
	}
	return panel.Inbound{
		Remark:         remark,
		Enable:         true,
		Port:           port,
		Protocol:       cfg.Protocol,
		Settings:       string(settings),
		StreamSettings: string(stream),
		Sniffing:       string(sniffing),
		Tag:            fmt.Sprintf("inbound-%d", port),
	}, nil
}

// NewClient builds a settings.clients entry with a fresh credential. Only
// the fields the variant knows are written, in the order the panels use.
func (b *Builder) NewClient(p panel.Protocol, caps panel.Capabilities, opts ClientOptions) (*panel.Object, string) {
	cred := b.creds.New(p)
	o := panel.NewObject()
	o.SetString(p.CredentialKey(), cred)
	if p == panel.ProtocolVLESS {
		o.SetString("flow", opts.Flow)
	}
	if p == panel.ProtocolVMess && !caps.PartialClients {
		o.SetInt64("alterId", 0)
	}
	o.SetString("email", strings.TrimSpace(opts.Email))
	if caps.LimitIP {
		o.SetInt64("limitIp", int64(opts.LimitIP))
	}
	o.SetInt64("totalGB", opts.TotalBytes)
	o.SetInt64("expiryTime", opts.ExpiryTime)
	if caps.ClientEnable {
		o.SetBool("enable", true)
	}
	if caps.TgID {
		o.SetString("tgId", "")
	}
	if caps.SubID {
		o.SetString("subId", NewSubID())
	}
	return o, cred
}

// NewCredential returns a replacement credential for p.
func (b *Builder) NewCredential(p panel.Protocol) string {
	return b.creds.New(p)
}

// ClientOptionsFor turns plan quotas into client values as of now.
func ClientOptionsFor(params PlanParams, email string, nowMs int64) ClientOptions {
	var expiry int64
	if params.Days > 0 {
		expiry = nowMs + int64(params.Days)*86400000
	}
	return ClientOptions{
		Email:      email,
		Flow:       params.Flow,
		LimitIP:    params.LimitIP,
		TotalBytes: GiBToBytes(params.VolumeGiB),
		ExpiryTime: expiry,
	}
}
