package store

import (
	"context"
	"sync"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// MemoryStore implements every store interface in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	messages  []chat.Message
	subs      []chat.Subscription
	presence  map[string]int64
	appendErr error
	subsErr   error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{presence: make(map[string]int64)}
}

// FailAppends makes every later AppendMessage return err. Pass nil to heal.
func (s *MemoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailSubscriptionWrites makes AddSubscription and ReplaceSubscriptions
// return err.
func (s *MemoryStore) FailSubscriptionWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsErr = err
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// ListMessages returns a copy of the history in append order.
func (s *MemoryStore) ListMessages(_ context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message{}, s.messages...), nil
}

// AppendMessage adds msg to the end of the history.
func (s *MemoryStore) AppendMessage(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

// ListSubscriptions returns a copy of the stored subscriptions.
func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]chat.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Subscription{}, s.subs...), nil
}

// AddSubscription appends sub without checking for duplicates.
func (s *MemoryStore) AddSubscription(_ context.Context, sub chat.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subsErr != nil {
		return s.subsErr
	}
	s.subs = append(s.subs, sub)
	return nil
}

// ReplaceSubscriptions overwrites the stored set with subs.
func (s *MemoryStore) ReplaceSubscriptions(_ context.Context, subs []chat.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subsErr != nil {
		return s.subsErr
	}
	s.subs = append([]chat.Subscription{}, subs...)
	return nil
}

// LoadPresence returns a copy of the last-seen times keyed by user ID.
func (s *MemoryStore) LoadPresence(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out, nil
}

// UpsertPresence records at as the last-seen time of userID.
func (s *MemoryStore) UpsertPresence(_ context.Context, userID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = at
	return nil
}

// RemovePresence forgets userID.
func (s *MemoryStore) RemovePresence(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, userID)
	return nil
}
