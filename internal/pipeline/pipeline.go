// Package pipeline runs a submitted message through validation, storage,
// broadcast and push fan-out.
//
// A message is never shown to any client before it is stored: Submit
// persists and returns the stored message for acknowledgement, and only
// then does Deliver broadcast it and evaluate push.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/push"
	"github.com/Tyrowin/relaychat/internal/store"
)

// EventMessage is the realtime event name for chat messages.
const EventMessage = "message"

// PersistenceError wraps a failed message write.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Broadcaster publishes an event to every live connection.
type Broadcaster interface {
	Publish(event string, data any)
}

// Deps are the collaborators of a Pipeline. Sender and Broadcaster may be
// nil, which disables push and broadcast respectively.
type Deps struct {
	Messages      store.MessageStore
	Subscriptions store.SubscriptionStore
	Presence      *presence.Tracker
	Sender        push.Sender
	Broadcaster   Broadcaster
	Logger        zerolog.Logger
}

// Pipeline is safe for concurrent use if its stores are.
type Pipeline struct {
	messages    store.MessageStore
	subs        store.SubscriptionStore
	presence    *presence.Tracker
	sender      push.Sender
	broadcaster Broadcaster
	logger      zerolog.Logger
	now         func() time.Time
}

// New builds a pipeline from deps.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		messages:    deps.Messages,
		subs:        deps.Subscriptions,
		presence:    deps.Presence,
		sender:      deps.Sender,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger.With().Str("component", "pipeline").Logger(),
		now:         time.Now,
	}
}

// SetBroadcaster attaches the realtime hub after construction, since the hub
// itself needs the pipeline to persist relayed messages.
func (p *Pipeline) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// WithClock replaces the time source, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Submit validates in, stamps it and stores it. The returned message is
// exactly what was stored. On ErrInvalidPayload nothing is written; on a
// *PersistenceError nothing may be broadcast or pushed.
func (p *Pipeline) Submit(ctx context.Context, in chat.Input) (chat.Message, error) {
	if err := in.Validate(); err != nil {
		return chat.Message{}, err
	}

	msg := chat.NewMessage(in, p.now())
	if err := p.messages.AppendMessage(ctx, msg); err != nil {
		metrics.PersistFailures.WithLabelValues("http").Inc()
		return chat.Message{}, &PersistenceError{Err: err}
	}
	metrics.MessagesPersisted.WithLabelValues("http").Inc()

	p.logger.Debug().Str("id", msg.ID).Str("user", msg.UserID).Msg("message stored")
	return msg, nil
}

// Deliver broadcasts a stored message and, when nobody is active, pushes it
// to every subscription. Subscriptions reported gone are removed once the
// sweep finishes; transient failures keep theirs.
func (p *Pipeline) Deliver(ctx context.Context, msg chat.Message) (push.Report, error) {
	if p.broadcaster != nil {
		p.broadcaster.Publish(EventMessage, msg)
	}

	if p.sender == nil || p.subs == nil || p.presence == nil {
		return push.Report{Skipped: true}, nil
	}

	anyone, err := p.presence.IsAnyoneActive(ctx)
	if err != nil {
		return push.Report{}, fmt.Errorf("presence: %w", err)
	}
	if anyone {
		metrics.PushSkipped.Inc()
		return push.Report{Skipped: true}, nil
	}

	subs, err := p.subs.ListSubscriptions(ctx)
	if err != nil {
		return push.Report{}, fmt.Errorf("list subscriptions: %w", err)
	}

	payload, err := json.Marshal(push.Notification{Title: msg.Name, Body: msg.Text})
	if err != nil {
		return push.Report{}, err
	}

	report := push.Sweep(ctx, p.sender, subs, payload)
	metrics.PushDeliveries.WithLabelValues("delivered").Add(float64(report.Delivered))
	metrics.PushDeliveries.WithLabelValues("gone").Add(float64(len(report.Dropped)))
	metrics.PushDeliveries.WithLabelValues("failed").Add(float64(report.Attempted - report.Delivered - len(report.Dropped)))

	if report.Err != nil {
		p.logger.Debug().Err(report.Err).Msg("push sweep had failures")
	}

	if len(report.Dropped) > 0 {
		if err := p.prune(ctx, report.Dropped); err != nil {
			return report, fmt.Errorf("prune subscriptions: %w", err)
		}
		p.logger.Info().Int("dropped", len(report.Dropped)).Msg("pruned dead push subscriptions")
	}
	return report, nil
}

// prune removes dropped from the stored set. The set is re-read so that a
// subscription registered while the sweep ran is not lost.
func (p *Pipeline) prune(ctx context.Context, dropped []chat.Subscription) error {
	current, err := p.subs.ListSubscriptions(ctx)
	if err != nil {
		return err
	}

	kept := make([]chat.Subscription, 0, len(current))
	for _, sub := range current {
		if !containsSubscription(dropped, sub) {
			kept = append(kept, sub)
		}
	}
	return p.subs.ReplaceSubscriptions(ctx, kept)
}

func containsSubscription(list []chat.Subscription, sub chat.Subscription) bool {
	for _, s := range list {
		if s.Equal(sub) {
			return true
		}
	}
	return false
}

// Record stores a message that was already relayed over the realtime
// channel. The payload is taken as sent; a missing id or time is filled in.
func (p *Pipeline) Record(ctx context.Context, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return chat.ErrInvalidPayload
	}

	var msg chat.Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrInvalidPayload, err)
	}
	msg = msg.Stamp(p.now())

	if err := p.messages.AppendMessage(ctx, msg); err != nil {
		metrics.PersistFailures.WithLabelValues("realtime").Inc()
		return &PersistenceError{Err: err}
	}
	metrics.MessagesPersisted.WithLabelValues("realtime").Inc()
	return nil
}

// IsPersistence reports whether err came from a failed write.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
