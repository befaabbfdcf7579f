package inboundcfg

import (
	"slices"

	"kurut-provisioner/internal/panel"
)

var kcpHeaderTypes = []string{"none", "srtp", "utp", "wechat-video", "dtls", "wireguard"}

// Validate checks the protocol, transport and security combination and the
// metadata each mode needs. It does not apply defaults.
func (p PlanParams) Validate() error {
	switch p.Protocol {
	case panel.ProtocolVLESS, panel.ProtocolVMess, panel.ProtocolTrojan:
	default:
		return invalid("protocol", "unsupported protocol %q", p.Protocol)
	}

	switch p.Transport {
	case TransportTCP, TransportWS, TransportGRPC, TransportKCP:
	default:
		return invalid("transport", "unsupported transport %q", p.Transport)
	}

	if p.Days < 0 {
		return invalid("days", "must not be negative")
	}
	if p.VolumeGiB < 0 {
		return invalid("volume", "must not be negative")
	}
	if p.LimitIP < 0 {
		return invalid("limit_ip", "must not be negative")
	}

	switch p.Security {
	case SecurityNone:
	case SecurityTLS, SecurityXTLS:
		if p.Security == SecurityXTLS && (p.Protocol == panel.ProtocolVMess || p.Transport != TransportTCP) {
			return invalid("security", "xtls needs vless or trojan over tcp")
		}
		if p.TLS.CertFile == "" || p.TLS.KeyFile == "" {
			return invalid("tls", "certificate and key file paths are required")
		}
	case SecurityReality:
		if p.Protocol == panel.ProtocolVMess {
			return invalid("security", "reality is not available for vmess")
		}
		if p.Transport != TransportTCP && p.Transport != TransportGRPC {
			return invalid("security", "reality needs tcp or grpc transport")
		}
		if p.Reality.Dest != "" && len(p.Reality.ServerNames) == 0 {
			return invalid("reality.server_names", "required when dest %q is set", p.Reality.Dest)
		}
	default:
		return invalid("security", "unsupported security %q", p.Security)
	}

	if p.Flow != "" {
		if p.Protocol != panel.ProtocolVLESS {
			return invalid("flow", "only vless clients carry a flow")
		}
		if p.Transport != TransportTCP || p.Security == SecurityNone {
			return invalid("flow", "flow needs tcp with tls, xtls or reality")
		}
	}

	switch p.HeaderType {
	case "", HeaderNone:
	case HeaderHTTP:
		if p.Transport != TransportTCP {
			return invalid("header_type", "http obfuscation is only available for tcp")
		}
	default:
		if p.Transport != TransportKCP || !slices.Contains(kcpHeaderTypes, p.HeaderType) {
			return invalid("header_type", "unsupported header type %q", p.HeaderType)
		}
	}

	if p.Transport == TransportGRPC && p.ServiceName == "" {
		return invalid("service_name", "required for grpc")
	}
	return nil
}
