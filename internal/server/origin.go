// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// isOriginAllowed accepts a request without an Origin header only when
// every origin is allowed; browsers always send one on WebSocket upgrades.
func isOriginAllowed(r *http.Request) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := allowedOrigins[normalizedOrigin]
	return exists
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}

	s.logger.Warn().Str("origin", r.Header.Get("Origin")).Msg("blocked WebSocket connection from disallowed origin")
	return false
}

// noOrigin is a reserved host no browser can send as its origin.
const noOrigin = "https://origin.invalid"

// corsOrigins returns the origin list for the CORS middleware. The cors
// package treats an empty list as "*", so no configured origin yields a
// list that matches nothing, as the WebSocket check does.
func corsOrigins() []string {
	cfg := CurrentConfig()
	configMu.RLock()
	all := allowAllOrigins
	configMu.RUnlock()
	if all {
		return []string{"*"}
	}
	if len(cfg.AllowedOrigins) == 0 {
		return []string{noOrigin}
	}
	return cfg.AllowedOrigins
}
