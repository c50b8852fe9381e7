package agent

import (
	"bytes"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/recv"
	"github.com/peerdrop/peerdrop/internal/sched"
)

// loopbackChannel feeds every sent frame straight into a receive manager,
// exercising the full sender-to-receiver path without a network.
type loopbackChannel struct {
	manager *recv.Manager
	peerID  string
}

func (c *loopbackChannel) Send(data []byte) error {
	return c.manager.HandleFrame(c.peerID, data)
}

func (c *loopbackChannel) BufferedAmount() uint64 { return 0 }
func (c *loopbackChannel) IsOpen() bool           { return true }

func TestSchedulerToReceiverRoundTrip(t *testing.T) {
	payload := make([]byte, 3*sched.ChunkSize+777)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	manager := recv.NewManager(slog.Default())
	artifacts := make(chan recv.Artifact, 1)
	manager.OnComplete = func(a recv.Artifact) {
		artifacts <- a
	}

	done := make(chan error, 1)
	scheduler := sched.New(slog.Default())
	scheduler.Add(sched.Key{PeerID: "peer-a", FileID: "f1"}, &sched.Transfer{
		Channel: &loopbackChannel{manager: manager, peerID: "host-1"},
		Source:  bytes.NewReader(payload),
		File: protocol.FileDescriptor{
			ID:   "f1",
			Name: "blob.bin",
			Size: int64(len(payload)),
			Type: "application/octet-stream",
		},
		OnComplete: func(err error) {
			done <- err
		},
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not finish")
	}

	select {
	case artifact := <-artifacts:
		if artifact.Name != "blob.bin" || artifact.FileID != "f1" {
			t.Errorf("artifact = %s/%s, want blob.bin/f1", artifact.Name, artifact.FileID)
		}
		if !bytes.Equal(artifact.Data, payload) {
			t.Errorf("assembled %d bytes do not match the %d sent", len(artifact.Data), len(payload))
		}
		if artifact.DeclaredSize != int64(len(payload)) {
			t.Errorf("declared size = %d, want %d", artifact.DeclaredSize, len(payload))
		}
	case <-time.After(time.Second):
		t.Fatal("no artifact assembled")
	}

	if manager.Pending() != 0 {
		t.Errorf("pending buffers = %d, want 0", manager.Pending())
	}
}

func TestSchedulerToReceiverConcurrentFiles(t *testing.T) {
	manager := recv.NewManager(slog.Default())
	artifacts := make(chan recv.Artifact, 2)
	manager.OnComplete = func(a recv.Artifact) {
		artifacts <- a
	}

	payloads := map[string][]byte{
		"f1": bytes.Repeat([]byte{0xAA}, 2*sched.ChunkSize),
		"f2": bytes.Repeat([]byte{0xBB}, sched.ChunkSize/2),
	}

	scheduler := sched.New(slog.Default())
	done := make(chan error, 2)
	for id, data := range payloads {
		scheduler.Add(sched.Key{PeerID: "peer-a", FileID: id}, &sched.Transfer{
			Channel: &loopbackChannel{manager: manager, peerID: "host-1"},
			Source:  bytes.NewReader(data),
			File: protocol.FileDescriptor{
				ID: id, Name: id + ".bin", Size: int64(len(data)),
				Type: "application/octet-stream",
			},
			OnComplete: func(err error) { done <- err },
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("transfer failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("transfers did not finish")
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case artifact := <-artifacts:
			want := payloads[artifact.FileID]
			if !bytes.Equal(artifact.Data, want) {
				t.Errorf("file %s: assembled %d bytes, want %d",
					artifact.FileID, len(artifact.Data), len(want))
			}
		case <-time.After(time.Second):
			t.Fatal("missing artifact")
		}
	}
}
