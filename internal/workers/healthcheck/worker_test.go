package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/panel/paneltest"
	"kurut-provisioner/internal/stories/servers"
)

type fakeServers []*servers.Server

func (f fakeServers) ListActive(context.Context) ([]*servers.Server, error) {
	return f, nil
}

func TestCheckServersTracksTransitions(t *testing.T) {
	p := paneltest.New(panel.VariantSanaei)
	defer p.Close()

	srv := &servers.Server{
		ID:       7,
		Name:     "hc-panel",
		BaseURL:  p.URL(),
		Username: p.Username,
		Password: p.Password,
		Variant:  panel.VariantSanaei,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := panel.NewTransport(panel.TransportConfig{}, logger)
	factory := panel.NewFactory(panel.NewSessionManager(transport, logger))
	w := NewWorker(fakeServers{srv}, factory, 0, logger)
	ctx := context.Background()

	w.CheckServers(ctx)
	if !w.Up(srv.ID) {
		t.Fatal("panel reported down, want up")
	}
	if got := testutil.ToFloat64(panelUp.WithLabelValues("hc-panel")); got != 1 {
		t.Errorf("panel_up = %v, want 1", got)
	}

	p.SetPassword("rotated")
	w.CheckServers(ctx)
	w.CheckServers(ctx)
	if w.Up(srv.ID) {
		t.Fatal("panel reported up after rejected login, want down")
	}
	if got := w.statuses[srv.ID].failureCount; got != 2 {
		t.Errorf("failureCount = %d, want 2", got)
	}
	if got := testutil.ToFloat64(panelUp.WithLabelValues("hc-panel")); got != 0 {
		t.Errorf("panel_up = %v, want 0", got)
	}

	p.SetPassword(srv.Password)
	w.CheckServers(ctx)
	if !w.Up(srv.ID) {
		t.Error("panel not recovered")
	}
}
