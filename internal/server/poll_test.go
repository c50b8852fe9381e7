package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peerdrop/peerdrop/internal/coordinator"
	"github.com/peerdrop/peerdrop/internal/protocol"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := coordinator.NewRegistry(coordinator.Options{})
	mux, _ := New(registry, nil)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestPollRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var created createRoomResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/rooms", nil, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d", resp.StatusCode)
	}
	if len(created.RoomID) != 8 {
		t.Fatalf("Expected 8-char room code, got %q", created.RoomID)
	}
	roomURL := ts.URL + "/api/rooms/" + created.RoomID

	// Empty room: exists=false until the host registers.
	var status protocol.RoomStatus
	doJSON(t, http.MethodGet, roomURL, nil, &status)
	if status.Exists {
		t.Error("Expected room to not exist before host registration")
	}

	resp = doJSON(t, http.MethodPost, roomURL+"/host", identityRequest{Identity: "host-1"}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("register host: status %d", resp.StatusCode)
	}

	files := []protocol.FileDescriptor{{ID: "f1", Name: "a.txt", Size: 10, Type: "text/plain"}}
	resp = doJSON(t, http.MethodPut, roomURL+"/files", map[string]any{"files": files}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set files: status %d", resp.StatusCode)
	}

	var join protocol.JoinResult
	resp = doJSON(t, http.MethodPost, roomURL+"/join", identityRequest{Identity: "client-1"}, &join)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d", resp.StatusCode)
	}
	if join.HostID != "host-1" || len(join.Files) != 1 || join.Files[0].ID != "f1" {
		t.Errorf("Unexpected join result: %+v", join)
	}

	// Client requests f1; host's next poll drains the file-request.
	var downloads DownloadsPayload
	doJSON(t, http.MethodPost, roomURL+"/request", fileRequest{Identity: "client-1", FileID: "f1"}, &downloads)
	if downloads.Downloads["f1"] != 1 {
		t.Errorf("Expected 1 active download, got %v", downloads.Downloads)
	}

	var hostPoll protocol.HostPoll
	doJSON(t, http.MethodGet, roomURL+"/host/poll?identity=host-1", nil, &hostPoll)
	if len(hostPoll.Signals) != 1 || hostPoll.Signals[0].Kind != protocol.SignalFileRequest {
		t.Fatalf("Expected drained file-request, got %+v", hostPoll.Signals)
	}
	if hostPoll.Signals[0].FileID != "f1" || hostPoll.Signals[0].From != "client-1" {
		t.Errorf("Unexpected signal: %+v", hostPoll.Signals[0])
	}
	if hostPoll.ClientCount != 1 {
		t.Errorf("Expected 1 client, got %d", hostPoll.ClientCount)
	}

	// Host answers with an offer; the client's poll drains exactly it.
	sig := protocol.Signal{From: "host-1", To: "client-1", Kind: protocol.SignalOffer, FileID: "f1", Payload: json.RawMessage(`{"sdp":"..."}`)}
	resp = doJSON(t, http.MethodPost, roomURL+"/signal", sig, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("signal: status %d", resp.StatusCode)
	}

	var clientPoll protocol.ClientPoll
	doJSON(t, http.MethodGet, roomURL+"/client/poll?identity=client-1", nil, &clientPoll)
	if !clientPoll.HostOnline {
		t.Error("Expected host online")
	}
	if len(clientPoll.Signals) != 1 || clientPoll.Signals[0].Kind != protocol.SignalOffer {
		t.Fatalf("Expected drained offer, got %+v", clientPoll.Signals)
	}

	// Second poll finds the mailbox empty.
	clientPoll = protocol.ClientPoll{}
	doJSON(t, http.MethodGet, roomURL+"/client/poll?identity=client-1", nil, &clientPoll)
	if len(clientPoll.Signals) != 0 {
		t.Errorf("Expected empty mailbox, got %d signals", len(clientPoll.Signals))
	}

	// Download complete clears the accounting.
	downloads = DownloadsPayload{}
	doJSON(t, http.MethodPost, roomURL+"/downloaded", fileRequest{Identity: "client-1", FileID: "f1"}, &downloads)
	if _, ok := downloads.Downloads["f1"]; ok {
		t.Errorf("Expected f1 cleared, got %v", downloads.Downloads)
	}

	// Close is terminal.
	resp = doJSON(t, http.MethodDelete, roomURL, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: status %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, roomURL+"/join", identityRequest{Identity: "client-2"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after close, got %d", resp.StatusCode)
	}
}

func TestPollJoinMissingRoom(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/missing0/join", identityRequest{Identity: "client-1"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for missing room, got %d", resp.StatusCode)
	}
}

func TestPollRequestUnknownFile(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/api/rooms/room0000/host", identityRequest{Identity: "host-1"}, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/rooms/room0000/request", fileRequest{Identity: "client-1", FileID: "nope"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown file, got %d", resp.StatusCode)
	}
}

func TestPollRoomCodesAreUnique(t *testing.T) {
	ts := newTestServer(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		var created createRoomResponse
		doJSON(t, http.MethodPost, ts.URL+"/api/rooms", nil, &created)
		if seen[created.RoomID] {
			t.Fatalf("Duplicate room code %q", created.RoomID)
		}
		seen[created.RoomID] = true
	}
}
