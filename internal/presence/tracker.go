// Package presence tracks which users currently have the app in the
// foreground. Presence is advisory: a client that dies without reporting
// itself inactive stays active until it does, since there is no heartbeat.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Tyrowin/relaychat/internal/store"
)

// ErrMissingUser is returned when SetActive is called without a user id.
var ErrMissingUser = errors.New("presence: missing user id")

// Tracker records active users in a PresenceStore.
type Tracker struct {
	store store.PresenceStore
	now   func() time.Time
}

// NewTracker returns a tracker backed by s.
func NewTracker(s store.PresenceStore) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// SetActive marks userID active (recording the current time) or removes it.
func (t *Tracker) SetActive(ctx context.Context, userID string, active bool) error {
	if userID == "" {
		return ErrMissingUser
	}
	if active {
		return t.store.UpsertPresence(ctx, userID, t.now().UnixMilli())
	}
	return t.store.RemovePresence(ctx, userID)
}

// IsAnyoneActive reports whether at least one user is in the foreground.
func (t *Tracker) IsAnyoneActive(ctx context.Context) (bool, error) {
	active, err := t.store.LoadPresence(ctx)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// Active returns the sorted ids of active users.
func (t *Tracker) Active(ctx context.Context) ([]string, error) {
	active, err := t.store.LoadPresence(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
