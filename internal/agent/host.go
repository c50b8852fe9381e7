package agent

import (
	"context"
	"log/slog"
	"os"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/peerdrop/peerdrop/internal/config"
	"github.com/peerdrop/peerdrop/internal/files"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/sched"
)

// hostPeer is one live (peer, file) negotiation on the host side.
type hostPeer struct {
	pc     *pion.PeerConnection
	source *os.File
	once   sync.Once
}

func (p *hostPeer) close() {
	p.once.Do(func() {
		if p.source != nil {
			p.source.Close()
		}
		if p.pc != nil {
			p.pc.Close()
		}
	})
}

// HostSession runs the serving side of a room: it answers file requests by
// opening a data channel to the requester and handing the send to the
// scheduler. All sends share one scheduler, so concurrent fetches split the
// host's capacity fairly.
type HostSession struct {
	cfg    *config.Config
	link   Link
	shared []*files.Shared
	sched  *sched.Scheduler
	logger *slog.Logger

	mu    sync.Mutex
	peers map[sched.Key]*hostPeer

	// OnDownloads receives active-download snapshots for display.
	OnDownloads func(map[string]int)

	// OnTransferDone fires after each send finishes; err is nil on success.
	OnTransferDone func(peerID, fileID string, err error)
}

// NewHostSession creates a host session over an already-connected link.
func NewHostSession(cfg *config.Config, link Link, shared []*files.Shared, logger *slog.Logger) *HostSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostSession{
		cfg:    cfg,
		link:   link,
		shared: shared,
		sched:  sched.New(logger),
		logger: logger,
		peers:  make(map[sched.Key]*hostPeer),
	}
}

// Open registers the room and announces the file list. Returns the room code
// peers use to join.
func (h *HostSession) Open(roomID string) (string, error) {
	code, err := h.link.RegisterHost(roomID)
	if err != nil {
		return "", err
	}
	if err := h.link.SetFiles(files.Descriptors(h.shared)); err != nil {
		return "", err
	}
	return code, nil
}

// Run serves requests until ctx is cancelled or the room closes.
func (h *HostSession) Run(ctx context.Context) error {
	defer h.closePeers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-h.link.Signals():
			if !ok {
				return nil
			}
			h.handleSignal(sig)

		case counts := <-h.link.Downloads():
			if h.OnDownloads != nil {
				h.OnDownloads(counts)
			}

		case <-h.link.RoomClosed():
			return nil

		case text := <-h.link.Errors():
			h.logger.Warn("coordinator error", "error", text)
		}
	}
}

func (h *HostSession) handleSignal(sig protocol.Signal) {
	key := sched.Key{PeerID: sig.From, FileID: sig.FileID}

	switch sig.Kind {
	case protocol.SignalFileRequest:
		if err := h.startTransfer(sig.From, sig.FileID); err != nil {
			h.logger.Error("start transfer failed",
				"peer", sig.From, "file", sig.FileID, "error", err)
		}

	case protocol.SignalAnswer:
		h.mu.Lock()
		peer, ok := h.peers[key]
		h.mu.Unlock()
		if !ok {
			h.logger.Warn("answer for unknown negotiation", "peer", sig.From, "file", sig.FileID)
			return
		}
		desc, err := decodeSDP(sig)
		if err != nil {
			h.logger.Warn("bad answer payload", "peer", sig.From, "error", err)
			return
		}
		if err := peer.pc.SetRemoteDescription(desc); err != nil {
			h.logger.Warn("apply answer failed", "peer", sig.From, "error", err)
		}

	case protocol.SignalICECandidate:
		h.mu.Lock()
		peer, ok := h.peers[key]
		h.mu.Unlock()
		if !ok {
			return
		}
		if err := addICECandidate(peer.pc, sig); err != nil {
			h.logger.Debug("ICE candidate rejected", "peer", sig.From, "error", err)
		}

	case protocol.SignalPeerGone:
		h.dropRequester(sig.From)

	default:
		h.logger.Warn("dropping signal", "kind", sig.Kind, "peer", sig.From,
			"error", ErrUnexpectedKind)
	}
}

// startTransfer opens a fresh peer connection and data channel for one
// (peer, file) request and offers it to the requester. The send starts once
// the channel reports open.
func (h *HostSession) startTransfer(peerID, fileID string) error {
	var source *files.Shared
	for _, s := range h.shared {
		if s.Descriptor.ID == fileID {
			source = s
			break
		}
	}
	if source == nil {
		// The coordinator validates file IDs; a miss here means the list
		// was replaced after the request was relayed.
		h.logger.Warn("request for file no longer offered", "peer", peerID, "file", fileID)
		return nil
	}

	pc, err := newPeerConnection(h.cfg)
	if err != nil {
		return err
	}
	forwardICECandidates(pc, h.link, peerID, fileID)

	dc, err := createDataChannel(pc, fileID)
	if err != nil {
		pc.Close()
		return err
	}

	reader, err := source.Open()
	if err != nil {
		pc.Close()
		return err
	}

	key := sched.Key{PeerID: peerID, FileID: fileID}
	peer := &hostPeer{pc: pc, source: reader}

	h.mu.Lock()
	if prev, ok := h.peers[key]; ok {
		// A repeated request supersedes the old negotiation.
		h.sched.Remove(key)
		prev.close()
	}
	h.peers[key] = peer
	h.mu.Unlock()

	dc.OnOpen(func() {
		h.sched.Add(key, &sched.Transfer{
			Channel: &dataChannel{dc: dc},
			Source:  reader,
			File:    source.Descriptor,
			OnComplete: func(err error) {
				h.finishTransfer(key, peer, err)
			},
		})
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if state == pion.ICEConnectionStateFailed || state == pion.ICEConnectionStateClosed {
			h.sched.Remove(key)
			h.dropPeer(key, peer)
		}
	})

	offer, err := createOffer(pc)
	if err != nil {
		h.dropPeer(key, peer)
		return err
	}
	payload, err := sdpPayload(offer)
	if err != nil {
		h.dropPeer(key, peer)
		return err
	}

	return h.link.SendSignal(protocol.Signal{
		To:      peerID,
		Kind:    protocol.SignalOffer,
		FileID:  fileID,
		Payload: payload,
	})
}

func (h *HostSession) finishTransfer(key sched.Key, peer *hostPeer, err error) {
	h.dropPeer(key, peer)
	if h.OnTransferDone != nil {
		h.OnTransferDone(key.PeerID, key.FileID, err)
	}
}

// dropRequester tears down every transfer keyed to a departed peer: the
// scheduler stops spending budget on it and the negotiations close.
func (h *HostSession) dropRequester(peerID string) {
	h.sched.RemovePeer(peerID)

	h.mu.Lock()
	var gone []*hostPeer
	for key, peer := range h.peers {
		if key.PeerID == peerID {
			gone = append(gone, peer)
			delete(h.peers, key)
		}
	}
	h.mu.Unlock()

	for _, peer := range gone {
		peer.close()
	}
	if len(gone) > 0 {
		h.logger.Info("peer gone, transfers dropped", "peer", peerID, "count", len(gone))
	}
}

func (h *HostSession) dropPeer(key sched.Key, peer *hostPeer) {
	h.mu.Lock()
	if h.peers[key] == peer {
		delete(h.peers, key)
	}
	h.mu.Unlock()
	peer.close()
}

func (h *HostSession) closePeers() {
	h.mu.Lock()
	peers := make([]*hostPeer, 0, len(h.peers))
	for key, p := range h.peers {
		peers = append(peers, p)
		delete(h.peers, key)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// ActiveTransfers reports how many sends are in flight.
func (h *HostSession) ActiveTransfers() int {
	return h.sched.Active()
}
