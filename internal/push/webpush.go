package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// WebPush sends notifications signed with a VAPID key pair.
type WebPush struct {
	keys       Keys
	subscriber string
	ttl        int
	httpClient webpush.HTTPClient
}

// NewWebPush creates a sender. subscriber is the VAPID contact (a mailto:
// or https: URI) and ttl how long the push service may hold a message.
func NewWebPush(keys Keys, subscriber string, ttl time.Duration) *WebPush {
	return &WebPush{
		keys: keys,
		// webpush-go prefixes anything that is not an https: URL with mailto:.
		subscriber: strings.TrimPrefix(subscriber, "mailto:"),
		ttl:        int(ttl / time.Second),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the client used to reach push services.
func (w *WebPush) WithHTTPClient(c webpush.HTTPClient) *WebPush {
	w.httpClient = c
	return w
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
// A 404 or 410 answer yields an error matching ErrGone.
func (w *WebPush) Send(ctx context.Context, sub chat.Subscription, payload []byte) error {
	var s webpush.Subscription
	if err := json.Unmarshal(sub, &s); err != nil {
		return fmt.Errorf("push: decode subscription: %w", err)
	}
	if s.Endpoint == "" {
		return fmt.Errorf("push: subscription has no endpoint")
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &s, &webpush.Options{
		HTTPClient:      w.httpClient,
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.keys.PublicKey,
		VAPIDPrivateKey: w.keys.PrivateKey,
		TTL:             w.ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Endpoint: s.Endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}
