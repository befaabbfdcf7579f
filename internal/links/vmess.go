package links

import (
	"encoding/base64"
	"strings"

	"github.com/go-faster/jx"

	"kurut-provisioner/internal/inboundcfg"
)

// vmessLink encodes the v2rayN share object. Field order is fixed; grpc puts
// its service name and kcp its seed into "path".
func vmessLink(p Params) (string, error) {
	path := p.Path
	switch p.Transport {
	case inboundcfg.TransportGRPC:
		path = p.ServiceName
	case inboundcfg.TransportKCP:
		path = p.Seed
	}
	headerType := p.HeaderType
	if headerType == "" {
		headerType = inboundcfg.HeaderNone
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("v")
	e.Str("2")
	e.FieldStart("ps")
	e.Str(p.Remark)
	e.FieldStart("add")
	e.Str(p.Host)
	e.FieldStart("port")
	e.Int(p.Port)
	e.FieldStart("id")
	e.Str(p.Credential)
	e.FieldStart("aid")
	e.Int(0)
	e.FieldStart("net")
	e.Str(string(p.Transport))
	e.FieldStart("type")
	e.Str(headerType)
	e.FieldStart("host")
	e.Str(p.HostHeader)
	e.FieldStart("path")
	e.Str(path)
	e.FieldStart("tls")
	e.Str(string(p.Security))
	if p.SNI != "" {
		e.FieldStart("sni")
		e.Str(p.SNI)
	}
	if len(p.ALPN) > 0 {
		e.FieldStart("alpn")
		e.Str(strings.Join(p.ALPN, ","))
	}
	if p.Fingerprint != "" {
		e.FieldStart("fp")
		e.Str(p.Fingerprint)
	}
	e.ObjEnd()

	return "vmess://" + base64.StdEncoding.EncodeToString(e.Bytes()), nil
}
