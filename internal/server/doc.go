// Package server implements the HTTP API and WebSocket relay for relaychat.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, middleware and HTTP handlers. Message
// storage, presence and push live in their own packages and are injected
// through Options.
package server
