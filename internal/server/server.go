// Package server ties the realtime hub, the HTTP API and the message
// pipeline together behind the Server type.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/pipeline"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/store"
)

// Options are the collaborators of a Server.
type Options struct {
	Logger         zerolog.Logger
	Pipeline       *pipeline.Pipeline
	Messages       store.MessageStore
	Subscriptions  store.SubscriptionStore
	Presence       *presence.Tracker
	VAPIDPublicKey string
	// Checks are reported by the health endpoint, keyed by name.
	Checks map[string]store.Pinger
}

// Server serves the HTTP API and the WebSocket endpoint.
type Server struct {
	hub            *Hub
	pipeline       *pipeline.Pipeline
	messages       store.MessageStore
	subs           store.SubscriptionStore
	presence       *presence.Tracker
	vapidPublicKey string
	checks         map[string]store.Pinger
	logger         zerolog.Logger
	upgrader       websocket.Upgrader
	httpLimiter    *keyedRateLimiter
	deliveries     sync.WaitGroup
}

// New builds a server. The hub persists relayed messages through the
// pipeline and the pipeline broadcasts stored messages through the hub.
func New(opts Options) *Server {
	s := &Server{
		pipeline:       opts.Pipeline,
		messages:       opts.Messages,
		subs:           opts.Subscriptions,
		presence:       opts.Presence,
		vapidPublicKey: opts.VAPIDPublicKey,
		checks:         opts.Checks,
		logger:         opts.Logger,
		httpLimiter:    newKeyedRateLimiter(CurrentConfig().HTTPRateLimit),
	}

	var persist Persister
	if opts.Pipeline != nil {
		persist = opts.Pipeline.Record
	}
	s.hub = NewHub(opts.Logger, persist)
	if opts.Pipeline != nil {
		opts.Pipeline.SetBroadcaster(s.hub)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the realtime hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub loop in the background.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info().Msg("hub started and ready to manage WebSocket connections")
}

// Wait blocks until every push fan-out started so far has finished.
func (s *Server) Wait() {
	s.deliveries.Wait()
}

// Shutdown stops the hub, closing every connection, and waits for pending
// push fan-outs. Both waits share timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	hubErr := s.hub.Shutdown(timeout)

	done := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return hubErr
	case <-time.After(time.Until(deadline)):
		s.logger.Warn().Msg("push fan-out still running at shutdown")
		return errors.Join(hubErr, context.DeadlineExceeded)
	}
}
