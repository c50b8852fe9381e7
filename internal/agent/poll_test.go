package agent

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/internal/coordinator"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := coordinator.NewRegistry(coordinator.Options{Logger: slog.Default()})
	mux, _ := server.New(registry, slog.Default())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func waitSignal(t *testing.T, ch <-chan protocol.Signal, kind string) protocol.Signal {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case sig := <-ch:
			if sig.Kind == kind {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s signal", kind)
		}
	}
}

func TestPollLinkHostClientExchange(t *testing.T) {
	ts := newTestServer(t)

	host := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer host.Close()

	code, err := host.RegisterHost("")
	if err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("room code = %q, want 8 characters", code)
	}

	descriptors := []protocol.FileDescriptor{
		{ID: "f1", Name: "notes.txt", Size: 512, Type: "text/plain"},
	}
	if err := host.SetFiles(descriptors); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}

	client := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer client.Close()

	result, err := client.Join(code)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.HostID != host.Identity() {
		t.Errorf("HostID = %q, want %q", result.HostID, host.Identity())
	}
	if len(result.Files) != 1 || result.Files[0].ID != "f1" {
		t.Fatalf("joined with files %v, want [f1]", result.Files)
	}

	// A file request reaches the host as a relayed signal plus a download
	// snapshot on the next poll cycle.
	if err := client.RequestFile("f1"); err != nil {
		t.Fatalf("RequestFile: %v", err)
	}

	req := waitSignal(t, host.Signals(), protocol.SignalFileRequest)
	if req.From != client.Identity() || req.FileID != "f1" {
		t.Errorf("file request from %q for %q, want %q/%q",
			req.From, req.FileID, client.Identity(), "f1")
	}

	select {
	case counts := <-host.Downloads():
		if counts["f1"] != 1 {
			t.Errorf("downloads[f1] = %d, want 1", counts["f1"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for download snapshot")
	}

	// Offers relay host-to-client through the same mailbox machinery.
	err = host.SendSignal(protocol.Signal{
		To:      client.Identity(),
		Kind:    protocol.SignalOffer,
		FileID:  "f1",
		Payload: []byte(`{"type":"offer","sdp":"v=0"}`),
	})
	if err != nil {
		t.Fatalf("SendSignal: %v", err)
	}

	offer := waitSignal(t, client.Signals(), protocol.SignalOffer)
	if offer.From != host.Identity() {
		t.Errorf("offer from %q, want %q", offer.From, host.Identity())
	}

	if err := client.DownloadComplete("f1"); err != nil {
		t.Fatalf("DownloadComplete: %v", err)
	}
}

func TestPollLinkFilesUpdated(t *testing.T) {
	ts := newTestServer(t)

	host := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer host.Close()
	code, err := host.RegisterHost("")
	if err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}

	client := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer client.Close()
	if _, err := client.Join(code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	replaced := []protocol.FileDescriptor{
		{ID: "f1", Name: "a.bin", Size: 1, Type: "application/octet-stream"},
		{ID: "f2", Name: "b.bin", Size: 2, Type: "application/octet-stream"},
	}
	if err := host.SetFiles(replaced); err != nil {
		t.Fatalf("SetFiles: %v", err)
	}

	select {
	case update := <-client.FilesUpdated():
		if len(update.Files) != 2 {
			t.Errorf("got %d files, want 2", len(update.Files))
		}
		if update.Version == 0 {
			t.Error("files version not bumped")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for files update")
	}
}

func TestPollLinkRoomClosed(t *testing.T) {
	ts := newTestServer(t)

	host := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer host.Close()
	code, err := host.RegisterHost("")
	if err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}

	client := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer client.Close()
	if _, err := client.Join(code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := host.CloseRoom(); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}

	select {
	case <-client.RoomClosed():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for room closed")
	}
}

func TestPollLinkJoinMissingRoom(t *testing.T) {
	ts := newTestServer(t)

	client := NewPollLink(ts.URL, NewIdentity(), 20*time.Millisecond)
	defer client.Close()

	if _, err := client.Join("missing1"); err == nil {
		t.Fatal("expected join of missing room to fail")
	}
}
