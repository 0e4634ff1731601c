// Command client is a headless participant for the signaling server. It
// dials the WebSocket endpoint, requests a partner, and drives a pion-backed
// peer transport through the offer/answer/candidate exchange. Useful for
// end-to-end testing and for soaking the server without browsers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pairwave/video-chat/internal/negotiation"
	"github.com/pairwave/video-chat/internal/protocol"
	"github.com/pairwave/video-chat/internal/rtc"
)

const pingInterval = 25 * time.Second

type client struct {
	conn    clientConn
	machine *negotiation.Machine
	selfID  string
	rejoin  bool // request a new partner after partner-left
}

// clientConn is the minimal connection surface used by the client, satisfied
// by net.Conn.
type clientConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

func main() {
	serverURL := "ws://localhost:8080/ws"
	if v := os.Getenv("SERVER_URL"); v != "" {
		serverURL = v
	}

	rtcConfig := rtc.DefaultConfig()
	if v := os.Getenv("STUN_SERVER"); v != "" {
		rtcConfig.STUNServers = []string{v}
	}
	if v := os.Getenv("PION_LOG_LEVEL"); v != "" {
		rtcConfig.LogLevel = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, _, err := ws.Dial(ctx, serverURL)
	cancel()
	if err != nil {
		log.Fatalf("dial %s: %v", serverURL, err)
	}
	defer conn.Close()

	c := &client{
		conn:   conn,
		rejoin: os.Getenv("AUTO_REJOIN") != "false",
	}

	log.Printf("connected to %s", serverURL)

	// Keepalive pings so the server's heartbeat keeps the connection alive
	// through idle waits.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = c.send(protocol.PingMsg{Type: protocol.TypePing})
			}
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		if c.machine != nil {
			c.machine.Stop()
		}
		_ = c.send(protocol.StopMsg{Type: protocol.TypeStop})
		close(done)
		conn.Close()
	}()

	factory := rtc.NewFactory(rtcConfig)

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			log.Fatalf("read: %v", err)
		}

		msgType, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			log.Printf("parse: %v", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.ConnectedMsg:
			c.selfID = m.ClientID
			c.machine = negotiation.NewMachine(m.ClientID, factory, c)
			c.machine.SetOnStateChange(func(state string) {
				log.Printf("negotiation state: %s", state)
			})
			log.Printf("assigned id %s, requesting partner", c.selfID)
			c.machine.AwaitMatch()
			_ = c.send(protocol.JoinChatMsg{Type: protocol.TypeJoinChat})

		case protocol.WaitingMsg:
			log.Printf("waiting for a partner...")

		case protocol.MatchedMsg:
			log.Printf("matched with %s in room %s", m.PartnerID, m.RoomID)
			if err := c.machine.HandleMatched(m.RoomID, m.PartnerID); err != nil {
				log.Printf("match handling failed: %v", err)
			}

		case protocol.OfferMsg:
			var desc negotiation.Description
			if err := json.Unmarshal(m.Offer, &desc); err != nil {
				log.Printf("bad offer from %s: %v", m.From, err)
				continue
			}
			if err := c.machine.HandleOffer(desc); err != nil {
				log.Printf("offer handling failed: %v", err)
			}

		case protocol.AnswerMsg:
			var desc negotiation.Description
			if err := json.Unmarshal(m.Answer, &desc); err != nil {
				log.Printf("bad answer from %s: %v", m.From, err)
				continue
			}
			if err := c.machine.HandleAnswer(desc); err != nil {
				log.Printf("answer handling failed: %v", err)
			}

		case protocol.ICECandidateMsg:
			c.machine.HandleCandidate(m.Candidate)

		case protocol.ChatMessageMsg:
			log.Printf("[%s] %s", m.From, m.Message)

		case protocol.ChatSentMsg:
			log.Printf("delivered at %d: %s", m.Timestamp, m.Message)

		case protocol.PartnerLeftMsg:
			log.Printf("partner left")
			c.machine.HandlePartnerLeft()
			if c.rejoin {
				c.machine.AwaitMatch()
				_ = c.send(protocol.JoinChatMsg{Type: protocol.TypeJoinChat})
			}

		case protocol.ErrorMsg:
			log.Printf("server error %s: %s", m.Code, m.Message)

		case protocol.PongMsg:
			// Keepalive answered; nothing to do.

		default:
			log.Printf("unhandled message type %q", msgType)
		}
	}
}

// send marshals a client message (its Type field must be set) and writes it
// as a single text frame.
func (c *client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// ---------------------------------------------------------------------------
// negotiation.Signaler implementation
// ---------------------------------------------------------------------------

func (c *client) SendOffer(d negotiation.Description) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.send(protocol.OfferMsg{Type: protocol.TypeOffer, Offer: raw})
}

func (c *client) SendAnswer(d negotiation.Description) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.send(protocol.AnswerMsg{Type: protocol.TypeAnswer, Answer: raw})
}

func (c *client) SendCandidate(candidate json.RawMessage) error {
	return c.send(protocol.ICECandidateMsg{Type: protocol.TypeICECandidate, Candidate: candidate})
}
