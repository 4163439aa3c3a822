// Package server defines the realtime event envelope and utility helpers
// shared by client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Realtime event names.
const (
	EventMessage = "message"
	EventOnline  = "online"
)

// Event is the JSON envelope exchanged over the WebSocket connection.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// BroadcastMessage is a frame the hub delivers to every client. Relay holds
// the message data of a peer-sent chat message, which the hub persists after
// broadcasting; it is nil for server-originated events.
type BroadcastMessage struct {
	Payload []byte
	Relay   json.RawMessage
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: event, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
