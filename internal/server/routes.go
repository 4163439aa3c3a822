// Package server wires HTTP handlers into a chi router for the relaychat
// application via routing helpers.
package server

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns a router with all application routes.
// Static files are served from the configured directory when it exists.
func (s *Server) SetupRoutes() *chi.Mux {
	cfg := CurrentConfig()
	r := chi.NewRouter()

	r.Use(instrument)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.HealthHandler)
	r.Get("/ws", s.WebSocketHandler)

	r.Get("/vapid-public-key", s.VAPIDPublicKeyHandler)
	r.Get("/messages", s.MessagesHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.limitByAddress)

		r.Post("/subscribe", s.SubscribeHandler)
		r.Post("/message", s.PostMessageHandler)
		r.Post("/active", s.ActiveHandler)
	})

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	} else {
		r.Get("/", rootHandler)
	}

	return r
}

// rootHandler answers when no static client is deployed.
func rootHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "relaychat server is running!")
}
