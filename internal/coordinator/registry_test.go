package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

func testFiles() []protocol.FileDescriptor {
	return []protocol.FileDescriptor{
		{ID: "f1", Name: "a.txt", Size: 10, Type: "text/plain"},
	}
}

func TestJoinSeesLatestFiles(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("ab12cd34", "host-1")

	version, err := reg.SetFiles("ab12cd34", testFiles())
	if err != nil {
		t.Fatalf("SetFiles: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1 after first SetFiles, got %d", version)
	}

	result, err := reg.JoinClient("ab12cd34", "client-1")
	if err != nil {
		t.Fatalf("JoinClient: %v", err)
	}
	if result.HostID != "host-1" {
		t.Errorf("Expected host-1, got %s", result.HostID)
	}
	if len(result.Files) != 1 || result.Files[0].ID != "f1" {
		t.Errorf("Expected file list [f1], got %v", result.Files)
	}
	if result.FilesVersion != 1 {
		t.Errorf("Expected files version 1, got %d", result.FilesVersion)
	}
}

func TestJoinFailsWithoutRoom(t *testing.T) {
	reg := NewRegistry(Options{})

	if _, err := reg.JoinClient("missing", "client-1"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}

func TestSetFilesFailsWithoutRoom(t *testing.T) {
	reg := NewRegistry(Options{})

	if _, err := reg.SetFiles("missing", testFiles()); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegisterHostIdempotent(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.RegisterHost("room", "host-1")

	if got := reg.RoomCount(); got != 1 {
		t.Errorf("Expected 1 room, got %d", got)
	}
}

func TestRegisterHostReconnectNewIdentity(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())
	reg.RegisterHost("room", "host-2")

	result, err := reg.JoinClient("room", "client-1")
	if err != nil {
		t.Fatalf("JoinClient: %v", err)
	}
	if result.HostID != "host-2" {
		t.Errorf("Expected host-2 after reconnect, got %s", result.HostID)
	}
	if len(result.Files) != 1 {
		t.Errorf("Expected files to survive host reconnect, got %v", result.Files)
	}
}

func TestJoinClientIdempotent(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")

	if _, err := reg.JoinClient("room", "client-1"); err != nil {
		t.Fatalf("First join: %v", err)
	}
	if _, err := reg.JoinClient("room", "client-1"); err != nil {
		t.Fatalf("Second join: %v", err)
	}

	r, _ := reg.room("room")
	if len(r.clients) != 1 {
		t.Errorf("Expected 1 client session, got %d", len(r.clients))
	}
}

func TestRoomStatus(t *testing.T) {
	reg := NewRegistry(Options{})

	status := reg.RoomStatus("room")
	if status.Exists {
		t.Error("Expected room to not exist")
	}

	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())

	status = reg.RoomStatus("room")
	if !status.Exists || !status.HasHost {
		t.Errorf("Expected existing room with host, got %+v", status)
	}
	if status.FileCount != 1 {
		t.Errorf("Expected file count 1, got %d", status.FileCount)
	}
}

func TestRelayAndDrainScenario(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("ab12cd34", "host-1")
	reg.SetFiles("ab12cd34", testFiles())

	if _, err := reg.JoinClient("ab12cd34", "client-1"); err != nil {
		t.Fatalf("JoinClient: %v", err)
	}

	// Client requests f1 from the host.
	err := reg.RelaySignal("ab12cd34", protocol.Signal{
		From: "client-1", To: protocol.TargetHost,
		Kind: protocol.SignalFileRequest, FileID: "f1",
	})
	if err != nil {
		t.Fatalf("RelaySignal: %v", err)
	}

	hostSignals := reg.DrainMailbox("ab12cd34", "host-1")
	if len(hostSignals) != 1 {
		t.Fatalf("Expected 1 signal in host mailbox, got %d", len(hostSignals))
	}
	if hostSignals[0].Kind != protocol.SignalFileRequest || hostSignals[0].FileID != "f1" {
		t.Errorf("Expected file-request for f1, got %+v", hostSignals[0])
	}

	// Host sends an offer back to the client.
	err = reg.RelaySignal("ab12cd34", protocol.Signal{
		From: "host-1", To: "client-1",
		Kind: protocol.SignalOffer, FileID: "f1",
	})
	if err != nil {
		t.Fatalf("RelaySignal offer: %v", err)
	}

	clientSignals := reg.DrainMailbox("ab12cd34", "client-1")
	if len(clientSignals) != 1 || clientSignals[0].Kind != protocol.SignalOffer {
		t.Fatalf("Expected exactly the offer in client mailbox, got %v", clientSignals)
	}

	// Draining consumed the mailbox.
	if again := reg.DrainMailbox("ab12cd34", "client-1"); len(again) != 0 {
		t.Errorf("Expected empty mailbox after drain, got %d signals", len(again))
	}
}

func TestMailboxOrderIsFIFO(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.JoinClient("room", "client-1")

	for _, kind := range []string{protocol.SignalOffer, protocol.SignalICECandidate, protocol.SignalICECandidate} {
		reg.RelaySignal("room", protocol.Signal{From: "host-1", To: "client-1", Kind: kind, FileID: "f1"})
	}

	signals := reg.DrainMailbox("room", "client-1")
	if len(signals) != 3 {
		t.Fatalf("Expected 3 signals, got %d", len(signals))
	}
	if signals[0].Kind != protocol.SignalOffer {
		t.Errorf("Expected offer first, got %s", signals[0].Kind)
	}
}

func TestRelayToVanishedClientDropsSilently(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")

	err := reg.RelaySignal("room", protocol.Signal{From: "host-1", To: "ghost", Kind: protocol.SignalOffer})
	if err != nil {
		t.Errorf("Expected silent drop, got %v", err)
	}
}

func TestDownloadAccounting(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())
	reg.JoinClient("room", "client-1")
	reg.JoinClient("room", "client-2")

	counts, err := reg.RecordDownloadStart("room", "f1", "client-1")
	if err != nil {
		t.Fatalf("RecordDownloadStart: %v", err)
	}
	if counts["f1"] != 1 {
		t.Errorf("Expected 1 active download, got %d", counts["f1"])
	}

	// Idempotent start.
	counts, _ = reg.RecordDownloadStart("room", "f1", "client-1")
	if counts["f1"] != 1 {
		t.Errorf("Expected 1 after duplicate start, got %d", counts["f1"])
	}

	counts, _ = reg.RecordDownloadStart("room", "f1", "client-2")
	if counts["f1"] != 2 {
		t.Errorf("Expected 2 active downloads, got %d", counts["f1"])
	}

	counts, err = reg.RecordDownloadComplete("room", "f1", "client-1")
	if err != nil {
		t.Fatalf("RecordDownloadComplete: %v", err)
	}
	if counts["f1"] != 1 {
		t.Errorf("Expected 1 after complete, got %d", counts["f1"])
	}

	counts, _ = reg.RecordDownloadComplete("room", "f1", "client-2")
	if _, ok := counts["f1"]; ok {
		t.Errorf("Expected empty set dropped, got %v", counts)
	}
}

func TestDownloadStartUnknownFile(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")

	if _, err := reg.RecordDownloadStart("room", "nope", "client-1"); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("Expected ErrUnknownFile, got %v", err)
	}
}

func TestLeaveClearsDownloads(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())
	reg.JoinClient("room", "client-1")
	reg.RecordDownloadStart("room", "f1", "client-1")

	reg.LeaveClient("room", "client-1")

	poll, err := reg.HostPoll("room", "host-1")
	if err != nil {
		t.Fatalf("HostPoll: %v", err)
	}
	if len(poll.Downloads) != 0 {
		t.Errorf("Expected no active downloads after leave, got %v", poll.Downloads)
	}
	if poll.ClientCount != 0 {
		t.Errorf("Expected 0 clients after leave, got %d", poll.ClientCount)
	}
}

func TestCloseRoomIsTerminal(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.JoinClient("room", "client-1")

	reg.CloseRoom("room")

	if _, err := reg.JoinClient("room", "client-2"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after close, got %v", err)
	}

	// Re-registering creates a fresh room, not a resurrection.
	reg.RegisterHost("room", "host-2")
	status := reg.RoomStatus("room")
	if status.FileCount != 0 {
		t.Errorf("Expected fresh room with no files, got %d", status.FileCount)
	}
}

func TestSweepEvictsStaleHostRoom(t *testing.T) {
	reg := NewRegistry(Options{StaleAfter: 50 * time.Millisecond})
	reg.RegisterHost("room", "host-1")
	reg.JoinClient("room", "client-1")

	reg.SweepStale(time.Now().Add(time.Second))

	if _, err := reg.JoinClient("room", "client-2"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after sweep, got %v", err)
	}
	if got := reg.RoomCount(); got != 0 {
		t.Errorf("Expected 0 rooms after sweep, got %d", got)
	}
}

func TestSweepEvictsStaleClientOnly(t *testing.T) {
	reg := NewRegistry(Options{StaleAfter: time.Minute})
	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())
	reg.JoinClient("room", "stale-client")
	reg.RecordDownloadStart("room", "f1", "stale-client")

	// Keep the host fresh, let the client lapse.
	r, _ := reg.room("room")
	r.mu.Lock()
	r.clients["stale-client"].lastSeen = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	reg.SweepStale(time.Now())

	poll, err := reg.HostPoll("room", "host-1")
	if err != nil {
		t.Fatalf("Expected room to survive, got %v", err)
	}
	if poll.ClientCount != 0 {
		t.Errorf("Expected stale client evicted, got %d clients", poll.ClientCount)
	}
	if len(poll.Downloads) != 0 {
		t.Errorf("Expected download entries scrubbed, got %v", poll.Downloads)
	}
}

func TestClientPollHostOffline(t *testing.T) {
	reg := NewRegistry(Options{StaleAfter: 50 * time.Millisecond})
	reg.RegisterHost("room", "host-1")
	reg.JoinClient("room", "client-1")

	time.Sleep(80 * time.Millisecond)

	if _, err := reg.ClientPoll("room", "client-1"); !errors.Is(err, ErrHostOffline) {
		t.Errorf("Expected ErrHostOffline for lapsed host, got %v", err)
	}
}

func TestClientPollDrainsAndReports(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	reg.SetFiles("room", testFiles())
	reg.JoinClient("room", "client-1")
	reg.RelaySignal("room", protocol.Signal{From: "host-1", To: "client-1", Kind: protocol.SignalOffer, FileID: "f1"})

	poll, err := reg.ClientPoll("room", "client-1")
	if err != nil {
		t.Fatalf("ClientPoll: %v", err)
	}
	if !poll.HostOnline {
		t.Error("Expected host online")
	}
	if len(poll.Signals) != 1 {
		t.Errorf("Expected 1 drained signal, got %d", len(poll.Signals))
	}
	if poll.FilesVersion != 1 || len(poll.Files) != 1 {
		t.Errorf("Expected current file list, got version %d files %v", poll.FilesVersion, poll.Files)
	}
}

func TestNotifyFiresOnRelay(t *testing.T) {
	var gotRoom, gotIdentity string
	reg := NewRegistry(Options{})
	reg.SetNotify(func(roomID, identity string) {
		gotRoom, gotIdentity = roomID, identity
	})
	reg.RegisterHost("room", "host-1")
	reg.JoinClient("room", "client-1")

	reg.RelaySignal("room", protocol.Signal{From: "client-1", To: protocol.TargetHost, Kind: protocol.SignalFileRequest, FileID: "f1"})

	if gotRoom != "room" || gotIdentity != "host-1" {
		t.Errorf("Expected notify for (room, host-1), got (%s, %s)", gotRoom, gotIdentity)
	}
}

func TestLeaveClientTellsHostPeerIsGone(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.RegisterHost("room", "host-1")
	if _, err := reg.JoinClient("room", "client-1"); err != nil {
		t.Fatalf("JoinClient: %v", err)
	}

	reg.LeaveClient("room", "client-1")

	signals := reg.DrainMailbox("room", "host-1")
	if len(signals) != 1 {
		t.Fatalf("Expected 1 host signal after leave, got %d", len(signals))
	}
	if signals[0].Kind != protocol.SignalPeerGone || signals[0].From != "client-1" {
		t.Errorf("Unexpected signal: %+v", signals[0])
	}

	// Leaving again must not enqueue a second notice.
	reg.LeaveClient("room", "client-1")
	if signals := reg.DrainMailbox("room", "host-1"); len(signals) != 0 {
		t.Errorf("Expected no signal for repeated leave, got %v", signals)
	}
}

func TestSweepTellsHostOfEvictedClients(t *testing.T) {
	reg := NewRegistry(Options{StaleAfter: 50 * time.Millisecond})
	reg.RegisterHost("room", "host-1")
	if _, err := reg.JoinClient("room", "client-1"); err != nil {
		t.Fatalf("JoinClient: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	reg.TouchHost("room", "host-1")
	reg.SweepStale(time.Now())

	signals := reg.DrainMailbox("room", "host-1")
	if len(signals) != 1 {
		t.Fatalf("Expected 1 host signal after eviction, got %d", len(signals))
	}
	if signals[0].Kind != protocol.SignalPeerGone || signals[0].From != "client-1" {
		t.Errorf("Unexpected signal: %+v", signals[0])
	}
}
