package links

import (
	"crypto/sha256"
	"fmt"
	"net"
	"strings"

	"kurut-provisioner/internal/inboundcfg"
)

const (
	bypassPort      = 443
	bypassLabelLen  = 4
	earlyDataSuffix = "?ed=2048"
	labelAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Bypass rewrites p to a front-domain endpoint: a 4 character label derived
// from the credential in front of the last two labels of the host, port 443
// and forced TLS. Reality parameters and flow are dropped.
func Bypass(p Params) (Params, error) {
	if net.ParseIP(p.Host) != nil || !strings.Contains(p.Host, ".") {
		return Params{}, fmt.Errorf("bypass needs a domain host, got %q", p.Host)
	}

	labels := strings.Split(strings.TrimSuffix(p.Host, "."), ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	front := frontLabel(p.Credential) + "." + strings.Join(labels, ".")

	p.Host = front
	p.Port = bypassPort
	p.Security = inboundcfg.SecurityTLS
	p.SNI = front
	p.PublicKey, p.ShortID, p.SpiderX, p.Flow = "", "", "", ""
	if p.Transport == inboundcfg.TransportWS {
		p.HostHeader = front
		if p.Path == "" {
			p.Path = "/"
		}
		if !strings.Contains(p.Path, "?ed=") {
			p.Path += earlyDataSuffix
		}
	}
	return p, nil
}

func frontLabel(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	out := make([]byte, bypassLabelLen)
	for i := range out {
		out[i] = labelAlphabet[int(sum[i])%len(labelAlphabet)]
	}
	return string(out)
}
