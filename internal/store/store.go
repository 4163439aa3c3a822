// Package store persists messages, push subscriptions and presence. The flat
// file backend keeps one JSON document per collection, the memory backend
// backs tests, and presence can optionally live in Redis.
package store

import (
	"context"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// MessageStore holds the chat history in submission order.
type MessageStore interface {
	ListMessages(ctx context.Context) ([]chat.Message, error)
	AppendMessage(ctx context.Context, msg chat.Message) error
}

// SubscriptionStore holds browser push subscriptions.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]chat.Subscription, error)
	AddSubscription(ctx context.Context, sub chat.Subscription) error
	// ReplaceSubscriptions swaps the stored set for subs.
	ReplaceSubscriptions(ctx context.Context, subs []chat.Subscription) error
}

// PresenceStore maps user ids to the time (Unix ms) they last became active.
type PresenceStore interface {
	LoadPresence(ctx context.Context) (map[string]int64, error)
	UpsertPresence(ctx context.Context, userID string, at int64) error
	RemovePresence(ctx context.Context, userID string) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
