package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/push"
	"github.com/Tyrowin/relaychat/internal/store"
)

type published struct {
	event string
	data  any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBroadcaster) Publish(event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{event, data})
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fakeSender struct {
	mu       sync.Mutex
	status   map[string]int
	attempts []string
	payloads [][]byte
	// during runs inside the first Send call.
	during func()
}

func (f *fakeSender) Send(_ context.Context, sub chat.Subscription, payload []byte) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, sub.Endpoint())
	f.payloads = append(f.payloads, payload)
	during := f.during
	f.during = nil
	f.mu.Unlock()

	if during != nil {
		during()
	}
	if code := f.status[sub.Endpoint()]; code != 0 {
		return &push.DeliveryError{Endpoint: sub.Endpoint(), StatusCode: code}
	}
	return nil
}

type fixture struct {
	store       *store.MemoryStore
	tracker     *presence.Tracker
	sender      *fakeSender
	broadcaster *recordingBroadcaster
	pipeline    *Pipeline
}

func newFixture() *fixture {
	mem := store.NewMemoryStore()
	f := &fixture{
		store:       mem,
		tracker:     presence.NewTracker(mem),
		sender:      &fakeSender{status: map[string]int{}},
		broadcaster: &recordingBroadcaster{},
	}
	f.pipeline = New(Deps{
		Messages:      mem,
		Subscriptions: mem,
		Presence:      f.tracker,
		Sender:        f.sender,
		Broadcaster:   f.broadcaster,
		Logger:        zerolog.Nop(),
	}).WithClock(func() time.Time { return time.UnixMilli(1700000000000) })
	return f
}

func (f *fixture) subscribe(t *testing.T, endpoint string) chat.Subscription {
	t.Helper()
	sub, err := chat.ParseSubscription([]byte(fmt.Sprintf(`{"endpoint":%q}`, endpoint)))
	require.NoError(t, err)
	require.NoError(t, f.store.AddSubscription(context.Background(), sub))
	return sub
}

var validInput = chat.Input{Text: "hi", UserID: "u1", Name: "A", Icon: "data:x"}

func TestSubmitAcknowledgementMatchesStoredRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	msg, err := f.pipeline.Submit(ctx, validInput)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, int64(1700000000000), msg.Time)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "A", msg.Name)
	assert.Equal(t, "data:x", msg.Icon)
	assert.Equal(t, "hi", msg.Text)

	stored, err := f.store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{msg}, stored)
	assert.Zero(t, f.broadcaster.count(), "Submit alone must not broadcast")
}

func TestSubmitInvalidHasNoSideEffects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, in := range []chat.Input{
		{UserID: "u1", Name: "A", Icon: "data:x"},
		{Text: "hi", Name: "A", Icon: "data:x"},
		{Text: "hi", UserID: "u1", Icon: "data:x"},
		{Text: "hi", UserID: "u1", Name: "A"},
	} {
		_, err := f.pipeline.Submit(ctx, in)
		assert.ErrorIs(t, err, chat.ErrInvalidPayload)
	}

	stored, err := f.store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSubmitPersistenceFailure(t *testing.T) {
	f := newFixture()
	f.store.FailAppends(errors.New("disk full"))

	_, err := f.pipeline.Submit(context.Background(), validInput)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, f.broadcaster.count())
	assert.Empty(t, f.sender.attempts)
}

func TestDeliverSkipsPushWhenSomeoneActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.subscribe(t, "https://push.example/a")
	require.NoError(t, f.tracker.SetActive(ctx, "u2", true))

	msg, err := f.pipeline.Submit(ctx, validInput)
	require.NoError(t, err)

	report, err := f.pipeline.Deliver(ctx, msg)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, f.sender.attempts, "no push attempts while presence is non-empty")

	require.Equal(t, 1, f.broadcaster.count())
	assert.Equal(t, EventMessage, f.broadcaster.events[0].event)
	assert.Equal(t, msg, f.broadcaster.events[0].data)
}

func TestDeliverPushesAndPrunesGoneSubscriptions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alive := f.subscribe(t, "https://push.example/alive")
	f.subscribe(t, "https://push.example/gone")
	f.subscribe(t, "https://push.example/notfound")
	flaky := f.subscribe(t, "https://push.example/flaky")
	f.sender.status["https://push.example/gone"] = http.StatusGone
	f.sender.status["https://push.example/notfound"] = http.StatusNotFound
	f.sender.status["https://push.example/flaky"] = http.StatusBadGateway

	msg, err := f.pipeline.Submit(ctx, validInput)
	require.NoError(t, err)

	report, err := f.pipeline.Deliver(ctx, msg)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 4, report.Attempted)
	assert.Len(t, f.sender.attempts, 4)

	var note push.Notification
	require.NoError(t, json.Unmarshal(f.sender.payloads[0], &note))
	assert.Equal(t, push.Notification{Title: "A", Body: "hi"}, note)

	subs, err := f.store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.Subscription{alive, flaky}, subs)
}

func TestDeliverKeepsSubscriptionAddedDuringSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.subscribe(t, "https://push.example/gone")
	f.sender.status["https://push.example/gone"] = http.StatusGone

	late, err := chat.ParseSubscription([]byte(`{"endpoint":"https://push.example/late"}`))
	require.NoError(t, err)
	f.sender.during = func() {
		require.NoError(t, f.store.AddSubscription(ctx, late))
	}

	_, err = f.pipeline.Deliver(ctx, chat.Message{ID: "m", Name: "A", Text: "hi"})
	require.NoError(t, err)

	subs, err := f.store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.Subscription{late}, subs)
}

func TestDeliverPruneFailureIsReported(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.subscribe(t, "https://push.example/gone")
	f.sender.status["https://push.example/gone"] = http.StatusGone
	f.store.FailSubscriptionWrites(errors.New("read-only"))

	report, err := f.pipeline.Deliver(ctx, chat.Message{ID: "m"})
	assert.ErrorContains(t, err, "read-only")
	assert.Len(t, report.Dropped, 1)
}

func TestDeliverWithoutSender(t *testing.T) {
	mem := store.NewMemoryStore()
	b := &recordingBroadcaster{}
	p := New(Deps{Messages: mem, Subscriptions: mem, Presence: presence.NewTracker(mem), Broadcaster: b, Logger: zerolog.Nop()})

	report, err := p.Deliver(context.Background(), chat.Message{ID: "m"})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, b.count())
}

func TestRecordStoresRelayedMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.pipeline.Record(ctx, json.RawMessage(`{"id":"c1","userId":"u1","name":"A","icon":"i","text":"yo","time":5}`)))
	require.NoError(t, f.pipeline.Record(ctx, json.RawMessage(`{"userId":"u2","name":"B","icon":"i","text":"no id"}`)))

	stored, err := f.store.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, chat.Message{ID: "c1", UserID: "u1", Name: "A", Icon: "i", Text: "yo", Time: 5}, stored[0])
	assert.NotEmpty(t, stored[1].ID)
	assert.Equal(t, int64(1700000000000), stored[1].Time)
}

func TestRecordRejectsNonObjects(t *testing.T) {
	f := newFixture()
	for _, raw := range []string{"", "null", `"text"`, "[1]", "{bad"} {
		err := f.pipeline.Record(context.Background(), json.RawMessage(raw))
		assert.ErrorIs(t, err, chat.ErrInvalidPayload, "payload %q", raw)
	}
}

func TestRecordPersistenceFailure(t *testing.T) {
	f := newFixture()
	f.store.FailAppends(errors.New("boom"))

	err := f.pipeline.Record(context.Background(), json.RawMessage(`{"text":"x"}`))
	assert.True(t, IsPersistence(err))
}
