package mirrorsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kurut-provisioner/internal/stories/mirror"
	"kurut-provisioner/internal/stories/servers"
)

type fakeServers []*servers.Server

func (f fakeServers) ListActive(context.Context) ([]*servers.Server, error) {
	return f, nil
}

type fakeSyncer struct {
	mu       sync.Mutex
	synced   []int64
	failing  map[int64]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSyncer) SyncServer(_ context.Context, id int64) (mirror.WriteStats, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, id)
	if f.failing[id] {
		return mirror.WriteStats{}, errors.New("panel unreachable")
	}
	return mirror.WriteStats{Inbounds: 1, Clients: 2}, nil
}

func TestRunOnce(t *testing.T) {
	list := fakeServers{}
	for i := int64(1); i <= 6; i++ {
		list = append(list, &servers.Server{ID: i, Name: "srv"})
	}
	syncer := &fakeSyncer{failing: map[int64]bool{3: true}}
	w := NewWorker(list, syncer, "@every 1h", 2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := Result{Servers: 6, Failed: 1, Written: 15}
	if res != want {
		t.Errorf("RunOnce() = %+v, want %+v", res, want)
	}
	if len(syncer.synced) != 6 {
		t.Errorf("synced %d servers, want 6", len(syncer.synced))
	}
	if p := syncer.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	w := NewWorker(fakeServers{}, &fakeSyncer{}, "every now and then", 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Start(); err == nil {
		t.Fatal("Start() error = nil, want schedule error")
	}
}
