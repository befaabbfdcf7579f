package links

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
)

// Parse reads a link produced by Build back into its parameters.
func Parse(link string) (Params, error) {
	switch {
	case strings.HasPrefix(link, "vmess://"):
		return parseVMess(strings.TrimPrefix(link, "vmess://"))
	case strings.HasPrefix(link, "vless://"), strings.HasPrefix(link, "trojan://"):
		return parseQuery(link)
	}
	return Params{}, fmt.Errorf("unknown link scheme")
}

func parseQuery(link string) (Params, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Params{}, fmt.Errorf("parse link: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Params{}, fmt.Errorf("parse link port: %w", err)
	}
	q := u.Query()
	p := Params{
		Protocol:    panel.Protocol(u.Scheme),
		Host:        u.Hostname(),
		Port:        port,
		Transport:   inboundcfg.Transport(q.Get("type")),
		Security:    inboundcfg.Security(q.Get("security")),
		Path:        q.Get("path"),
		HostHeader:  q.Get("host"),
		HeaderType:  q.Get("headerType"),
		ServiceName: q.Get("serviceName"),
		Seed:        q.Get("seed"),
		SNI:         q.Get("sni"),
		Fingerprint: q.Get("fp"),
		PublicKey:   q.Get("pbk"),
		ShortID:     q.Get("sid"),
		SpiderX:     q.Get("spx"),
		Flow:        q.Get("flow"),
		Remark:      u.Fragment,
	}
	if u.User != nil {
		p.Credential = u.User.Username()
	}
	if alpn := q.Get("alpn"); alpn != "" {
		p.ALPN = strings.Split(alpn, ",")
	}
	return p, nil
}

type vmessShare struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port int    `json:"port"`
	ID   string `json:"id"`
	Aid  int    `json:"aid"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
	ALPN string `json:"alpn"`
	FP   string `json:"fp"`
}

func parseVMess(payload string) (Params, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Params{}, fmt.Errorf("decode vmess payload: %w", err)
	}
	var v vmessShare
	if err := json.Unmarshal(raw, &v); err != nil {
		return Params{}, fmt.Errorf("decode vmess json: %w", err)
	}
	p := Params{
		Protocol:    panel.ProtocolVMess,
		Host:        v.Add,
		Port:        v.Port,
		Credential:  v.ID,
		Transport:   inboundcfg.Transport(v.Net),
		Security:    inboundcfg.Security(v.TLS),
		HostHeader:  v.Host,
		HeaderType:  v.Type,
		SNI:         v.SNI,
		Fingerprint: v.FP,
		Remark:      v.PS,
	}
	switch p.Transport {
	case inboundcfg.TransportGRPC:
		p.ServiceName = v.Path
	case inboundcfg.TransportKCP:
		p.Seed = v.Path
	default:
		p.Path = v.Path
	}
	if p.HeaderType == inboundcfg.HeaderNone {
		p.HeaderType = ""
	}
	if v.ALPN != "" {
		p.ALPN = strings.Split(v.ALPN, ",")
	}
	return p, nil
}
