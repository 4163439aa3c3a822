package chat

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrInvalidSubscription is returned for a subscription that is not a JSON
// object.
var ErrInvalidSubscription = errors.New("invalid subscription")

// Subscription is a browser push subscription stored exactly as the client
// sent it.
type Subscription json.RawMessage

// ParseSubscription validates that raw is a JSON object and returns it in
// compact form. Only insignificant whitespace is removed.
func ParseSubscription(raw []byte) (Subscription, error) {
	trimmed := bytes.TrimSpace(raw)
	var obj map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &obj) != nil {
		return nil, ErrInvalidSubscription
	}
	return compact(trimmed), nil
}

// compact strips insignificant whitespace, falling back to a plain copy
// for input that is not valid JSON.
func compact(data []byte) Subscription {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return Subscription(append([]byte(nil), data...))
	}
	return Subscription(buf.Bytes())
}

// MarshalJSON writes the stored bytes verbatim.
func (s Subscription) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// UnmarshalJSON keeps a compact copy of the raw bytes, so a subscription
// read back from an indented document matches the one that was written.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	if s == nil {
		return errors.New("chat.Subscription: UnmarshalJSON on nil pointer")
	}
	*s = compact(data)
	return nil
}

// Endpoint returns the push service URL, or "" if the subscription has none.
func (s Subscription) Endpoint() string {
	var v struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(s, &v); err != nil {
		return ""
	}
	return v.Endpoint
}

// Equal reports whether two subscriptions are the same JSON text once
// insignificant whitespace is ignored.
func (s Subscription) Equal(other Subscription) bool {
	return bytes.Equal(compact(s), compact(other))
}
