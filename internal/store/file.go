package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// File names inside the data directory.
const (
	MessagesFile      = "messages.json"
	SubscriptionsFile = "subscriptions.json"
	PresenceFile      = "active.json"
	VAPIDFile         = "vapid.json"
)

// FileStore keeps each collection as a JSON document in a directory. Every
// write rewrites the whole document. The mutex only orders writers inside
// this process; two processes sharing the directory can still lose updates.
type FileStore struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "filestore").Logger(),
	}, nil
}

// Path returns the absolute location of a document in the store.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Ping checks that the data directory is still reachable.
func (s *FileStore) Ping(_ context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func load[T any](s *FileStore, name string, def T) T {
	v, err := LoadJSON(s.Path(name), def)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("unreadable document, using default")
	}
	return v
}

// ListMessages returns the stored history, or an empty slice.
func (s *FileStore) ListMessages(_ context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load(s, MessagesFile, []chat.Message{}), nil
}

// AppendMessage adds msg to the end of the history and rewrites the file.
func (s *FileStore) AppendMessage(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := load(s, MessagesFile, []chat.Message{})
	msgs = append(msgs, msg)
	return SaveJSON(s.Path(MessagesFile), msgs)
}

// ListSubscriptions returns the stored push subscriptions.
func (s *FileStore) ListSubscriptions(_ context.Context) ([]chat.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load(s, SubscriptionsFile, []chat.Subscription{}), nil
}

// AddSubscription appends sub to the stored set.
func (s *FileStore) AddSubscription(_ context.Context, sub chat.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := load(s, SubscriptionsFile, []chat.Subscription{})
	subs = append(subs, sub)
	return SaveJSON(s.Path(SubscriptionsFile), subs)
}

// ReplaceSubscriptions overwrites the stored set.
func (s *FileStore) ReplaceSubscriptions(_ context.Context, subs []chat.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subs == nil {
		subs = []chat.Subscription{}
	}
	return SaveJSON(s.Path(SubscriptionsFile), subs)
}

// LoadPresence returns the userId → timestamp map.
func (s *FileStore) LoadPresence(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load(s, PresenceFile, map[string]int64{}), nil
}

// UpsertPresence records userID as active since at.
func (s *FileStore) UpsertPresence(_ context.Context, userID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := load(s, PresenceFile, map[string]int64{})
	if active == nil {
		active = map[string]int64{}
	}
	active[userID] = at
	return SaveJSON(s.Path(PresenceFile), active)
}

// RemovePresence drops userID from the active set.
func (s *FileStore) RemovePresence(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := load(s, PresenceFile, map[string]int64{})
	delete(active, userID)
	if active == nil {
		active = map[string]int64{}
	}
	return SaveJSON(s.Path(PresenceFile), active)
}
