package panel

import "context"

// Adapter is one panel flavor: the only place that knows endpoint paths,
// payload shapes and which fields exist.
type Adapter interface {
	Variant() Variant
	Capabilities() Capabilities

	Login(ctx context.Context, srv Server) (*Session, error)
	ListInbounds(ctx context.Context, srv Server, sess *Session) ([]Inbound, error)
	// SubmitInbound rewrites the whole inbound record.
	SubmitInbound(ctx context.Context, srv Server, sess *Session, in Inbound) error
	AddInbound(ctx context.Context, srv Server, sess *Session, in Inbound) (*Inbound, error)

	AddClients(ctx context.Context, srv Server, sess *Session, in Inbound, clients ...*Object) error
	UpdateClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string, client *Object) error
	DeleteClient(ctx context.Context, srv Server, sess *Session, in Inbound, credential string) error
	ResetClientTraffic(ctx context.Context, srv Server, sess *Session, in Inbound, email string) error
	ClearClientIPs(ctx context.Context, srv Server, sess *Session, email string) error

	NewX25519Cert(ctx context.Context, srv Server, sess *Session) (*KeyPair, error)
}

// NewAdapter returns the adapter for v, or nil for an unknown variant.
func NewAdapter(v Variant, t *Transport) Adapter {
	switch v {
	case VariantClassic:
		// Traffic lives on the inbound record; a renew zeroes it in the rewrite.
		return newXUI(v, t, "/xui", Capabilities{
			InboundWrite: true,
		})
	case VariantSanaei:
		return newXUI(v, t, "/panel", Capabilities{
			PartialClients: true,
			InboundWrite:   true,
			ClientEnable:   true,
			SubID:          true,
			LimitIP:        true,
			TgID:           true,
			ResetTraffic:   true,
			ResetIPs:       true,
			X25519Cert:     true,
		})
	case VariantAlireza:
		return newXUI(v, t, "/panel", Capabilities{
			PartialClients: true,
			InboundWrite:   true,
			ClientEnable:   true,
			SubID:          true,
			LimitIP:        true,
			ResetTraffic:   true,
			ResetIPs:       true,
			X25519Cert:     true,
		})
	case VariantMarzban:
		return newMarzban(t)
	}
	return nil
}
