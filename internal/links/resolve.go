package links

import (
	"fmt"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
)

// Resolve derives link parameters from a server, one of its inbounds and a
// client of that inbound.
func Resolve(srv panel.Server, in panel.Inbound, c panel.Client) (Params, error) {
	stream, err := inboundcfg.ParseStream(in.StreamSettings)
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Protocol:    in.Protocol,
		Host:        srv.LinkHost(),
		Port:        in.Port,
		Credential:  c.Credential(in.Protocol),
		Transport:   stream.Network,
		Security:    stream.Security,
		Path:        stream.Path(),
		HostHeader:  stream.Host(),
		HeaderType:  stream.HeaderType(),
		ServiceName: stream.ServiceName(),
		Seed:        stream.KCPSeed(),
		SNI:         stream.SNI(),
		ALPN:        stream.ALPN(),
		Fingerprint: stream.Fingerprint(),
		Remark:      Remark(in, c),
	}
	if p.HeaderType == inboundcfg.HeaderNone {
		p.HeaderType = ""
	}
	if r := stream.RealitySettings; stream.Security == inboundcfg.SecurityReality && r != nil {
		p.PublicKey = r.Settings.PublicKey
		p.SpiderX = r.Settings.SpiderX
		if len(r.ShortIDs) > 0 {
			p.ShortID = r.ShortIDs[0]
		}
	}
	if in.Protocol == panel.ProtocolVLESS && stream.Network == inboundcfg.TransportTCP && stream.Security != inboundcfg.SecurityNone {
		p.Flow = c.Flow
	}
	if p.Credential == "" {
		return Params{}, fmt.Errorf("client %q has no credential", c.Email)
	}
	return p, nil
}

// Remark labels a link with the inbound remark and the client email.
func Remark(in panel.Inbound, c panel.Client) string {
	switch {
	case in.Remark == "":
		return c.Email
	case c.Email == "":
		return in.Remark
	}
	return in.Remark + "-" + c.Email
}
