package inboundcfg

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ParseStream decodes a remote streamSettings blob. Unknown keys are ignored.
func ParseStream(raw string) (*StreamSettings, error) {
	var s StreamSettings
	if strings.TrimSpace(raw) == "" {
		return &StreamSettings{Network: TransportTCP, Security: SecurityNone}, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode stream settings: %w", err)
	}
	if s.Network == "" {
		s.Network = TransportTCP
	}
	if s.Security == "" {
		s.Security = SecurityNone
	}
	return &s, nil
}

// HeaderType is the obfuscation header of tcp and kcp streams.
func (s *StreamSettings) HeaderType() string {
	switch {
	case s.Network == TransportTCP && s.TCPSettings != nil:
		return s.TCPSettings.Header.Type
	case s.Network == TransportKCP && s.KCPSettings != nil:
		return s.KCPSettings.Header.Type
	}
	return ""
}

// Path is the ws path or the first http obfuscation request path.
func (s *StreamSettings) Path() string {
	switch {
	case s.Network == TransportWS && s.WSSettings != nil:
		return s.WSSettings.Path
	case s.Network == TransportTCP && s.TCPSettings != nil && s.TCPSettings.Header.Request != nil:
		if len(s.TCPSettings.Header.Request.Path) > 0 {
			return s.TCPSettings.Header.Request.Path[0]
		}
	}
	return ""
}

// Host is the Host header configured for ws or http obfuscation.
func (s *StreamSettings) Host() string {
	switch {
	case s.Network == TransportWS && s.WSSettings != nil:
		for k, v := range s.WSSettings.Headers {
			if strings.EqualFold(k, "host") {
				return v
			}
		}
	case s.Network == TransportTCP && s.TCPSettings != nil && s.TCPSettings.Header.Request != nil:
		for k, v := range s.TCPSettings.Header.Request.Headers {
			if strings.EqualFold(k, "host") && len(v) > 0 {
				return v[0]
			}
		}
	}
	return ""
}

func (s *StreamSettings) tls() *TLSSettings {
	if s.Security == SecurityXTLS {
		return s.XTLSSettings
	}
	return s.TLSSettings
}

// SNI is the server name a client should present.
func (s *StreamSettings) SNI() string {
	if s.Security == SecurityReality && s.RealitySettings != nil {
		if s.RealitySettings.Settings.ServerName != "" {
			return s.RealitySettings.Settings.ServerName
		}
		if len(s.RealitySettings.ServerNames) > 0 {
			return s.RealitySettings.ServerNames[0]
		}
		return ""
	}
	if t := s.tls(); t != nil {
		if t.Settings != nil && t.Settings.ServerName != "" {
			return t.Settings.ServerName
		}
		return t.ServerName
	}
	return ""
}

func (s *StreamSettings) ALPN() []string {
	if t := s.tls(); t != nil && s.Security != SecurityReality {
		return t.ALPN
	}
	return nil
}

func (s *StreamSettings) Fingerprint() string {
	if s.Security == SecurityReality && s.RealitySettings != nil {
		return s.RealitySettings.Settings.Fingerprint
	}
	if t := s.tls(); t != nil && t.Settings != nil {
		return t.Settings.Fingerprint
	}
	return ""
}

func (s *StreamSettings) ServiceName() string {
	if s.Network == TransportGRPC && s.GRPCSettings != nil {
		return s.GRPCSettings.ServiceName
	}
	return ""
}

func (s *StreamSettings) KCPSeed() string {
	if s.Network == TransportKCP && s.KCPSettings != nil {
		return s.KCPSettings.Seed
	}
	return ""
}
