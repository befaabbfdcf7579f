// Package links turns resolved client endpoints into shareable URIs.
package links

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
)

// Build renders p as a vless://, trojan:// or vmess:// link. With bypass set
// the endpoint is first rewritten to a fronted TLS host.
func Build(p Params, bypass bool) (string, error) {
	if bypass {
		var err error
		if p, err = Bypass(p); err != nil {
			return "", err
		}
	}
	if p.Host == "" || p.Port <= 0 || p.Credential == "" {
		return "", fmt.Errorf("incomplete endpoint: host, port and credential are required")
	}

	switch p.Protocol {
	case panel.ProtocolVLESS, panel.ProtocolTrojan:
		return queryLink(p), nil
	case panel.ProtocolVMess:
		return vmessLink(p)
	}
	return "", fmt.Errorf("no link format for protocol %q", p.Protocol)
}

type query []string

func (q *query) add(key, value string) {
	if value == "" {
		return
	}
	*q = append(*q, key+"="+url.QueryEscape(value))
}

func (q query) String() string {
	return strings.Join(q, "&")
}

func queryLink(p Params) string {
	var q query
	q.add("type", string(p.Transport))
	q.add("security", string(p.Security))

	switch p.Transport {
	case inboundcfg.TransportTCP, inboundcfg.TransportWS:
		q.add("path", p.Path)
		q.add("host", p.HostHeader)
		q.add("headerType", p.HeaderType)
	case inboundcfg.TransportKCP:
		q.add("headerType", p.HeaderType)
		q.add("seed", p.Seed)
	}

	switch p.Security {
	case inboundcfg.SecurityReality:
		q.add("fp", p.Fingerprint)
		q.add("pbk", p.PublicKey)
		q.add("sni", p.SNI)
		q.add("sid", p.ShortID)
		q.add("spx", p.SpiderX)
	case inboundcfg.SecurityTLS, inboundcfg.SecurityXTLS:
		q.add("sni", p.SNI)
		q.add("alpn", strings.Join(p.ALPN, ","))
		q.add("fp", p.Fingerprint)
	}

	q.add("flow", p.Flow)
	if p.Transport == inboundcfg.TransportGRPC {
		q.add("serviceName", p.ServiceName)
	}

	u := url.URL{
		Scheme:   string(p.Protocol),
		User:     url.User(p.Credential),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		RawQuery: q.String(),
	}
	link := u.String()
	if p.Remark != "" {
		link += "#" + url.PathEscape(p.Remark)
	}
	return link
}
