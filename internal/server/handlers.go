// Package server exposes HTTP handlers, including WebSocket upgrades, the
// message API and health checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/presence"
)

const version = "0.1.0"

// writeJSON sends a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug().Err(err).Msg("error writing response")
	}
}

// writeError sends a JSON error response with the given status code.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// readBody reads at most MaxMessageSize bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, CurrentConfig().MaxMessageSize)
	return io.ReadAll(r.Body)
}

// WebSocketHandler upgrades the connection, creates a Client and registers it
// with the hub, which launches the client's pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)

	select {
	case s.hub.register <- client:
	case <-s.hub.ctx.Done():
		_ = conn.Close()
	}
}

// VAPIDPublicKeyHandler returns the public key browsers subscribe with.
func (s *Server) VAPIDPublicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.vapidPublicKey)
}

// SubscribeHandler stores a push subscription as sent.
func (s *Server) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}

	sub, err := chat.ParseSubscription(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}

	if err := s.subs.AddSubscription(r.Context(), sub); err != nil {
		s.logger.Error().Err(err).Msg("failed to store subscription")
		s.writeError(w, http.StatusInternalServerError, "save failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// MessagesHandler returns the whole history in submission order.
func (s *Server) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.ListMessages(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load messages")
		s.writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// PostMessageHandler stores a message and acknowledges it before the
// broadcast and push fan-out run.
func (s *Server) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var in chat.Input
	body, err := readBody(w, r)
	if err != nil || json.Unmarshal(body, &in) != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	msg, err := s.pipeline.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidPayload) {
			s.writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		s.logger.Error().Err(err).Msg("failed to store message")
		s.writeError(w, http.StatusInternalServerError, "save failed")
		return
	}

	s.writeJSON(w, http.StatusCreated, msg)
	s.deliverAsync(r.Context(), msg)
}

func (s *Server) deliverAsync(ctx context.Context, msg chat.Message) {
	ctx = context.WithoutCancel(ctx)
	timeout := CurrentConfig().PushTimeout

	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		report, err := s.pipeline.Deliver(ctx, msg)
		if err != nil {
			s.logger.Error().Err(err).Str("id", msg.ID).Msg("message delivery failed")
			return
		}
		if !report.Skipped {
			s.logger.Debug().
				Str("id", msg.ID).
				Int("attempted", report.Attempted).
				Int("delivered", report.Delivered).
				Int("dropped", len(report.Dropped)).
				Msg("push fan-out finished")
		}
	}()
}

type activeRequest struct {
	UserID string `json:"userId"`
	Active bool   `json:"active"`
}

// ActiveHandler records whether a user has the app in the foreground.
func (s *Server) ActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	body, err := readBody(w, r)
	if err != nil || json.Unmarshal(body, &req) != nil {
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}

	if err := s.presence.SetActive(r.Context(), req.UserID, req.Active); err != nil {
		if errors.Is(err, presence.ErrMissingUser) {
			s.writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
			return
		}
		s.logger.Error().Err(err).Str("user", req.UserID).Msg("failed to update presence")
		s.writeError(w, http.StatusInternalServerError, "save failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Check is the result of one health probe.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Peers     int              `json:"peers"`
	Active    int              `json:"active"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// HealthHandler probes every configured store. It answers 503 when any
// probe fails.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(s.checks))
	healthy := true
	for name, p := range s.checks {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: err.Error()}
			healthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Peers:     s.hub.Count(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.presence != nil {
		if ids, err := s.presence.Active(ctx); err == nil {
			resp.Active = len(ids)
		}
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
