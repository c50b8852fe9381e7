package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/peerdrop/peerdrop/internal/config"
	"github.com/peerdrop/peerdrop/internal/files"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/recv"
)

// ErrPeerDisconnected means the host's connection went away mid-transfer.
var ErrPeerDisconnected = errors.New("peer disconnected")

// ErrFileWithdrawn means the host replaced its file list and a requested
// file is no longer offered.
var ErrFileWithdrawn = errors.New("file no longer offered")

// FetchResult is the outcome of one requested file.
type FetchResult struct {
	FileID  string
	Name    string
	Path    string
	Size    int64
	Elapsed time.Duration
	Err     error
}

// FetchSession runs the downloading side: it requests files, answers the
// host's offers, assembles inbound frames, and saves finished artifacts.
type FetchSession struct {
	cfg    *config.Config
	link   Link
	recv   *recv.Manager
	logger *slog.Logger

	mu    sync.Mutex
	peers map[recv.Key]*pion.PeerConnection

	// OnProgress fires after every received chunk for display.
	OnProgress func(fileID string, received, declared int64)

	results chan FetchResult
}

// NewFetchSession creates a fetch session over an already-joined link.
func NewFetchSession(cfg *config.Config, link Link, logger *slog.Logger) *FetchSession {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FetchSession{
		cfg:     cfg,
		link:    link,
		logger:  logger,
		peers:   make(map[recv.Key]*pion.PeerConnection),
		results: make(chan FetchResult, 8),
	}

	fs.recv = recv.NewManager(logger)
	fs.recv.OnProgress = func(key recv.Key, received, declared int64) {
		if fs.OnProgress != nil {
			fs.OnProgress(key.FileID, received, declared)
		}
	}
	fs.recv.OnComplete = fs.deliver
	return fs
}

// Fetch requests the given files and blocks until every one has finished,
// failed, or ctx expires. Per-file outcomes are returned in completion order.
func (fs *FetchSession) Fetch(ctx context.Context, fileIDs []string) ([]FetchResult, error) {
	for _, id := range fileIDs {
		if err := fs.link.RequestFile(id); err != nil {
			return nil, newFileError("request", id, err)
		}
	}

	results := make([]FetchResult, 0, len(fileIDs))
	pending := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		pending[id] = true
	}

	defer fs.closePeers()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()

		case sig, ok := <-fs.link.Signals():
			if !ok {
				return results, ErrPeerDisconnected
			}
			fs.handleSignal(sig)

		case res := <-fs.results:
			if !pending[res.FileID] {
				// A late outcome for a file already resolved.
				continue
			}
			delete(pending, res.FileID)
			results = append(results, res)

		case update := <-fs.link.FilesUpdated():
			// The host replaced its offer; anything we are still waiting
			// on that vanished from the list is never going to arrive.
			offered := make(map[string]bool, len(update.Files))
			for _, f := range update.Files {
				offered[f.ID] = true
			}
			for id := range pending {
				if offered[id] {
					continue
				}
				fs.withdraw(id)
				delete(pending, id)
				results = append(results, FetchResult{FileID: id, Err: ErrFileWithdrawn})
			}

		case <-fs.link.RoomClosed():
			return results, fmt.Errorf("room closed by host")

		case text := <-fs.link.Errors():
			return results, fmt.Errorf("%w: %s", ErrSignalingError, text)
		}
	}
	return results, nil
}

// withdraw tears down any negotiation for a file the host stopped offering.
func (fs *FetchSession) withdraw(fileID string) {
	fs.mu.Lock()
	var keys []recv.Key
	var pcs []*pion.PeerConnection
	for key, pc := range fs.peers {
		if key.FileID == fileID {
			keys = append(keys, key)
			pcs = append(pcs, pc)
			delete(fs.peers, key)
		}
	}
	fs.mu.Unlock()

	for i, key := range keys {
		if pcs[i] != nil {
			pcs[i].Close()
		}
		fs.recv.Cancel(key)
	}
	fs.logger.Info("file withdrawn by host", "file", fileID)
}

func (fs *FetchSession) handleSignal(sig protocol.Signal) {
	key := recv.Key{PeerID: sig.From, FileID: sig.FileID}

	switch sig.Kind {
	case protocol.SignalOffer:
		if err := fs.acceptTransfer(sig); err != nil {
			fs.logger.Error("accept transfer failed",
				"peer", sig.From, "file", sig.FileID, "error", err)
			fs.results <- FetchResult{FileID: sig.FileID, Err: err}
		}

	case protocol.SignalICECandidate:
		fs.mu.Lock()
		pc, ok := fs.peers[key]
		fs.mu.Unlock()
		if !ok {
			return
		}
		if err := addICECandidate(pc, sig); err != nil {
			fs.logger.Debug("ICE candidate rejected", "peer", sig.From, "error", err)
		}

	default:
		fs.logger.Warn("dropping signal", "kind", sig.Kind, "peer", sig.From,
			"error", ErrUnexpectedKind)
	}
}

// acceptTransfer answers one offer: a fresh peer connection whose inbound
// data channel feeds the receive manager.
func (fs *FetchSession) acceptTransfer(sig protocol.Signal) error {
	key := recv.Key{PeerID: sig.From, FileID: sig.FileID}

	pc, err := newPeerConnection(fs.cfg)
	if err != nil {
		return err
	}
	forwardICECandidates(pc, fs.link, sig.From, sig.FileID)

	peerID := sig.From
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			if err := fs.recv.HandleFrame(peerID, msg.Data); err != nil {
				fs.logger.Warn("bad frame", "peer", peerID, "error", err)
			}
		})
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if state == pion.ICEConnectionStateFailed || state == pion.ICEConnectionStateClosed {
			fs.abort(key)
		}
	})

	fs.mu.Lock()
	if prev, ok := fs.peers[key]; ok {
		prev.Close()
	}
	fs.peers[key] = pc
	fs.mu.Unlock()

	offer, err := decodeSDP(sig)
	if err != nil {
		fs.removePeer(key)
		pc.Close()
		return err
	}
	answer, err := acceptOffer(pc, offer)
	if err != nil {
		fs.removePeer(key)
		pc.Close()
		return err
	}
	payload, err := sdpPayload(answer)
	if err != nil {
		fs.removePeer(key)
		pc.Close()
		return err
	}

	return fs.link.SendSignal(protocol.Signal{
		To:      sig.From,
		Kind:    protocol.SignalAnswer,
		FileID:  sig.FileID,
		Payload: payload,
	})
}

// deliver saves a finished artifact and reports completion upstream. Runs on
// the data-channel callback goroutine.
func (fs *FetchSession) deliver(artifact recv.Artifact) {
	key := recv.Key{PeerID: artifact.PeerID, FileID: artifact.FileID}
	pc := fs.removePeer(key)

	path, err := files.Save(artifact.Name, artifact.Data, fs.cfg.OutputDir)
	if err == nil {
		fs.link.DownloadComplete(artifact.FileID)
	}

	if pc != nil {
		pc.Close()
	}

	fs.results <- FetchResult{
		FileID:  artifact.FileID,
		Name:    artifact.Name,
		Path:    path,
		Size:    int64(len(artifact.Data)),
		Elapsed: artifact.Elapsed,
		Err:     err,
	}
}

// abort fails one in-flight transfer when its connection dies. The success
// path removes the peer before closing the connection, so a state change
// seen after removal is not a failure.
func (fs *FetchSession) abort(key recv.Key) {
	pc := fs.removePeer(key)
	if pc == nil {
		return
	}
	pc.Close()
	fs.recv.Cancel(key)
	fs.results <- FetchResult{FileID: key.FileID, Err: ErrPeerDisconnected}
}

func (fs *FetchSession) removePeer(key recv.Key) *pion.PeerConnection {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	pc, ok := fs.peers[key]
	if !ok {
		return nil
	}
	delete(fs.peers, key)
	return pc
}

// closePeers tears down every live negotiation and abandons its partial
// receive buffer. Runs when the fetch loop exits for any reason.
func (fs *FetchSession) closePeers() {
	fs.mu.Lock()
	keys := make([]recv.Key, 0, len(fs.peers))
	peers := make([]*pion.PeerConnection, 0, len(fs.peers))
	for key, pc := range fs.peers {
		keys = append(keys, key)
		peers = append(peers, pc)
		delete(fs.peers, key)
	}
	fs.mu.Unlock()

	cancelled := make(map[string]bool)
	for i, pc := range peers {
		if pc != nil {
			pc.Close()
		}
		if !cancelled[keys[i].PeerID] {
			cancelled[keys[i].PeerID] = true
			fs.recv.CancelPeer(keys[i].PeerID)
		}
	}
}
