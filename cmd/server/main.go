package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pairwave/video-chat/internal/matching"
	"github.com/pairwave/video-chat/internal/metrics"
	"github.com/pairwave/video-chat/internal/protocol"
	"github.com/pairwave/video-chat/internal/ratelimit"
	"github.com/pairwave/video-chat/internal/relay"
	"github.com/pairwave/video-chat/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// Rate limiting is optional: enabled only when REDIS_ADDR is set. A nil
	// limiter allows everything.
	var limiter *ratelimit.Limiter
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		var err error
		limiter, err = ratelimit.NewLimiter(redisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
	}

	log.Printf("signaling server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	if redisAddr != "" {
		log.Printf("  redis_addr:      %s (rate limiting on)", redisAddr)
	} else {
		log.Printf("  rate limiting:   off (REDIS_ADDR not set)")
	}

	svc := matching.NewService()

	// Declare server early so closures can capture it.
	var server *ws.Server

	// sendTo builds a server message and delivers it, logging failures. The
	// relay treats delivery as fire-and-forget and so does everything here.
	sendTo := func(connID, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("failed to build %s for conn=%s: %v", msgType, connID, err)
			return
		}
		if err := server.SendMessage(connID, data); err != nil {
			log.Printf("failed to send %s to conn=%s: %v", msgType, connID, err)
		}
	}

	sig := relay.New(svc, func(connID string, data []byte) error {
		return server.SendMessage(connID, data)
	})

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join-chat — match with the longest waiter or enter the queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChat, func(conn *ws.Connection, msg interface{}) {
		if !limiter.Allow(context.Background(), conn.ID, ratelimit.RuleJoin) {
			sendTo(conn.ID, protocol.TypeError, protocol.ErrorMsg{
				Code: "rate_limited", Message: "too many join requests",
			})
			return
		}

		res, err := svc.RequestJoin(conn.ID)
		if err != nil {
			log.Printf("join-chat conn=%s: %v", conn.ID, err)
			return
		}

		// A rejoin without a clean stop tears down the old room first.
		if res.StalePartnerID != "" {
			sendTo(res.StalePartnerID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		}

		if res.Matched {
			sendTo(conn.ID, protocol.TypeMatched, protocol.MatchedMsg{
				RoomID: res.RoomID, PartnerID: res.PartnerID,
			})
			sendTo(res.PartnerID, protocol.TypeMatched, protocol.MatchedMsg{
				RoomID: res.RoomID, PartnerID: conn.ID,
			})
			log.Printf("matched conn=%s with conn=%s room=%s", conn.ID, res.PartnerID, res.RoomID)
			return
		}

		sendTo(conn.ID, protocol.TypeWaiting, protocol.WaitingMsg{})
		log.Printf("join-chat conn=%s queued", conn.ID)
	})

	// -----------------------------------------------------------------------
	// next-partner — leave the current room and rejoin the queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeNextPartner, func(conn *ws.Connection, msg interface{}) {
		if !limiter.Allow(context.Background(), conn.ID, ratelimit.RuleJoin) {
			sendTo(conn.ID, protocol.TypeError, protocol.ErrorMsg{
				Code: "rate_limited", Message: "too many join requests",
			})
			return
		}

		res := svc.Leave(conn.ID, true)
		if res.PartnerID != "" {
			sendTo(res.PartnerID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		}
		if res.Requeued {
			sendTo(conn.ID, protocol.TypeWaiting, protocol.WaitingMsg{})
			log.Printf("next-partner conn=%s requeued", conn.ID)
		}
	})

	// -----------------------------------------------------------------------
	// stop — end the current pairing without requesting a new one
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStop, func(conn *ws.Connection, msg interface{}) {
		res := svc.Leave(conn.ID, false)
		if res.PartnerID != "" {
			sendTo(res.PartnerID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		}
		log.Printf("stop conn=%s", conn.ID)
	})

	// -----------------------------------------------------------------------
	// offer / answer / ice-candidate — verbatim relay to the room partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeOffer, func(conn *ws.Connection, msg interface{}) {
		offerMsg, ok := msg.(protocol.OfferMsg)
		if !ok {
			return
		}
		sig.Offer(conn.ID, offerMsg.Offer)
	})

	dispatcher.Register(protocol.TypeAnswer, func(conn *ws.Connection, msg interface{}) {
		answerMsg, ok := msg.(protocol.AnswerMsg)
		if !ok {
			return
		}
		sig.Answer(conn.ID, answerMsg.Answer)
	})

	dispatcher.Register(protocol.TypeICECandidate, func(conn *ws.Connection, msg interface{}) {
		candMsg, ok := msg.(protocol.ICECandidateMsg)
		if !ok {
			return
		}
		sig.Candidate(conn.ID, candMsg.Candidate)
	})

	// -----------------------------------------------------------------------
	// chat-message — validate, relay, acknowledge with server timestamp
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMessageMsg)
		if !ok {
			return
		}
		if !limiter.Allow(context.Background(), conn.ID, ratelimit.RuleChat) {
			sendTo(conn.ID, protocol.TypeError, protocol.ErrorMsg{
				Code: "rate_limited", Message: "too many chat messages",
			})
			return
		}
		if err := sig.Chat(conn.ID, chatMsg.Message); err != nil {
			sendTo(conn.ID, protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_message", Message: err.Error(),
			})
		}
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Register the connection and tell the client its id; the id drives the
	// offer-initiator tie-break once a match arrives.
	server.SetOnConnect(func(conn *ws.Connection) error {
		if err := svc.Register(conn.ID); err != nil {
			return err
		}
		sendTo(conn.ID, protocol.TypeConnected, protocol.ConnectedMsg{ClientID: conn.ID})
		return nil
	})

	// A transport disconnect is not an error: it is the normal teardown
	// trigger. The partner (if any) gets exactly one partner-left.
	server.SetOnDisconnect(func(connID string) {
		res := svc.Disconnect(connID)
		if res.PartnerID != "" {
			sendTo(res.PartnerID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
		}
		limiter.Reset(context.Background(), connID)
	})

	// Diagnostic surfaces: read-only snapshots, safe to serve concurrently
	// with in-flight matching.
	server.Handle("/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(svc.Snapshot())
	}))
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", s)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := limiter.Close(); err != nil {
			log.Printf("limiter close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
