// Package push delivers Web Push notifications to stored browser
// subscriptions and prunes subscriptions whose endpoint has gone away.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// ErrGone marks a subscription the push service will never accept again.
var ErrGone = errors.New("push: subscription gone")

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub chat.Subscription, payload []byte) error
}

// DeliveryError is a non-success answer from a push service.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push: %s answered %d", e.Endpoint, e.StatusCode)
}

// Gone reports whether the status means the subscription is permanently dead.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// Is makes errors.Is(err, ErrGone) match 404 and 410 answers.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrGone && e.Gone()
}
