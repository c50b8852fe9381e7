package agent

import (
	"encoding/json"

	pion "github.com/pion/webrtc/v4"

	"github.com/peerdrop/peerdrop/internal/config"
	"github.com/peerdrop/peerdrop/internal/protocol"
)

// newPeerConnection builds a peer connection from the configured ICE servers.
func newPeerConnection(cfg *config.Config) (*pion.PeerConnection, error) {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, newError("create peer connection", err)
	}
	return pc, nil
}

// createDataChannel opens an ordered, reliable channel. Ordering is what lets
// the receive side skip sequence numbers entirely.
func createDataChannel(pc *pion.PeerConnection, label string) (*pion.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &pion.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, newError("create data channel", err)
	}
	return dc, nil
}

// forwardICECandidates relays local candidates to the remote peer as they are
// gathered, scoped to the (peer, file) negotiation.
func forwardICECandidates(pc *pion.PeerConnection, link Link, to, fileID string) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		link.SendSignal(protocol.Signal{
			To:      to,
			Kind:    protocol.SignalICECandidate,
			FileID:  fileID,
			Payload: payload,
		})
	})
}

// createOffer produces the local offer SDP, gathering included.
func createOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, newError("create offer", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return nil, newError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// acceptOffer applies a remote offer and produces the answering SDP.
func acceptOffer(pc *pion.PeerConnection, offer pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, newError("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, newError("create answer", err)
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, newError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// decodeSDP parses an offer or answer signal payload.
func decodeSDP(sig protocol.Signal) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(sig.Payload, &desc); err != nil {
		return desc, newError("parse "+sig.Kind, err)
	}
	return desc, nil
}

// addICECandidate applies a relayed remote candidate.
func addICECandidate(pc *pion.PeerConnection, sig protocol.Signal) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(sig.Payload, &ice); err != nil {
		return newError("parse ICE candidate", err)
	}
	if err := pc.AddICECandidate(ice); err != nil {
		return newError("add ICE candidate", err)
	}
	return nil
}

// sdpPayload marshals a session description into a signal payload.
func sdpPayload(desc *pion.SessionDescription) (json.RawMessage, error) {
	b, err := json.Marshal(desc)
	if err != nil {
		return nil, newError("marshal SDP", err)
	}
	return b, nil
}

// dataChannel adapts a pion channel to the scheduler's send interface.
type dataChannel struct {
	dc *pion.DataChannel
}

func (c *dataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *dataChannel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *dataChannel) IsOpen() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}
