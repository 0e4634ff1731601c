// Package rtc implements the negotiation.PeerTransport capability on top of
// pion/webrtc. It is used by the headless client; browser clients bring
// their own RTCPeerConnection.
package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/pairwave/video-chat/internal/negotiation"
)

// Config holds peer connection settings for the pion transport.
type Config struct {
	STUNServers []string // STUN URLs, e.g. "stun:stun.l.google.com:19302"
	LogLevel    string   // pion log level: "error", "warn", "info", "debug"
}

// DefaultConfig returns a Config using a public STUN server and quiet pion
// logging.
func DefaultConfig() Config {
	return Config{
		STUNServers: []string{"stun:stun.l.google.com:19302"},
		LogLevel:    "error",
	}
}

// NewFactory returns a TransportFactory that creates pion-backed transports.
// The initiator side pre-creates a "chat" data channel so its offer carries a
// media section; the answering side picks the channel up via OnDataChannel.
func NewFactory(cfg Config) negotiation.TransportFactory {
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = pionLogLevel(cfg.LogLevel)

	settings := webrtc.SettingEngine{LoggerFactory: loggerFactory}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return func(roomID string, initiator bool) (negotiation.PeerTransport, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("rtc: new peer connection: %w", err)
		}

		t := &Transport{pc: pc}

		if initiator {
			dc, err := pc.CreateDataChannel("chat", nil)
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("rtc: create data channel: %w", err)
			}
			t.dc = dc
		} else {
			pc.OnDataChannel(func(dc *webrtc.DataChannel) {
				t.dc = dc
			})
		}

		return t, nil
	}
}

// Transport adapts a pion PeerConnection to the negotiation.PeerTransport
// interface.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

// CreateOffer creates a trickle-ICE offer; it does not wait for candidate
// gathering to complete, candidates are relayed as they are discovered.
func (t *Transport) CreateOffer() (negotiation.Description, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.Description{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	return negotiation.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates an answer matching the previously-set remote offer.
func (t *Transport) CreateAnswer() (negotiation.Description, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.Description{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	return negotiation.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription applies a locally-created description.
func (t *Transport) SetLocalDescription(d negotiation.Description) error {
	if err := t.pc.SetLocalDescription(sessionDescription(d)); err != nil {
		return fmt.Errorf("rtc: set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies the partner's relayed description. pion
// queues candidates added after this point internally.
func (t *Transport) SetRemoteDescription(d negotiation.Description) error {
	if err := t.pc.SetRemoteDescription(sessionDescription(d)); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	return nil
}

// AddRemoteCandidate hands a relayed connectivity candidate to pion. The
// candidate arrives as the raw JSON the partner produced.
func (t *Transport) AddRemoteCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("rtc: decode candidate: %w", err)
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("rtc: add candidate: %w", err)
	}
	return nil
}

// OnCandidate registers the local candidate callback. pion signals the end
// of gathering with a nil candidate, which is not relayed.
func (t *Transport) OnCandidate(fn func(candidate json.RawMessage)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(data)
	})
}

// OnConnectionStateChange registers the connection-state callback. pion's
// state strings (connecting/connected/failed/disconnected/closed) match what
// the negotiation machine expects.
func (t *Transport) OnConnectionStateChange(fn func(state string)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(s.String())
	})
}

// Close tears down the peer connection and any data channel.
func (t *Transport) Close() error {
	return t.pc.Close()
}

func sessionDescription(d negotiation.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func pionLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "info":
		return logging.LogLevelInfo
	case "warn":
		return logging.LogLevelWarn
	default:
		return logging.LogLevelError
	}
}
