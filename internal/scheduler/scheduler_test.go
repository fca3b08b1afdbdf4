package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlasov/teamradar/internal/store"
	"github.com/ivlasov/teamradar/pkg/alert"
	"github.com/ivlasov/teamradar/pkg/signal"
	"github.com/ivlasov/teamradar/pkg/source"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func int64p(v int64) *int64 { return &v }

type fakeSource struct {
	name  source.SourceType
	items []source.Item
	err   error
}

func (f *fakeSource) Name() source.SourceType { return f.name }

func (f *fakeSource) Collect(ctx context.Context) ([]source.Item, error) {
	return f.items, f.err
}

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(ctx context.Context, text string) error {
	r.sent = append(r.sent, text)
	return nil
}

func TestIngestChatItem(t *testing.T) {
	db := newTestStore(t)
	sched := New(db, nil, nil, nil, nil, 0, 0, 0, 0, 0, 0)
	ctx := context.Background()

	n, err := sched.Ingest(ctx, []source.Item{{
		Source:   source.SourceChat,
		SourceID: "D1:100.0",
		Body:     "got a minute?",
		Author:   "U42",
		Channel:  &source.ChannelRef{ID: "D1", Name: "dana", IsDM: true},
		TS:       "100.0",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The chat tables are maintained alongside the item itself, so the
	// direct-message signal can see the new message.
	ids, err := db.UnreadDirectMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestIngestTrackerItemMirrorsStatus(t *testing.T) {
	db := newTestStore(t)
	sched := New(db, nil, nil, nil, nil, 0, 0, 0, 0, 0, 0)
	ctx := context.Background()

	n, err := sched.Ingest(ctx, []source.Item{{
		Source:   source.SourceTracker,
		SourceID: "abc1",
		Title:    "Fix login redirect",
		Status:   "in progress",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := db.ListStatusSnapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Status)
	assert.Equal(t, "in progress", *rows[0].Status)
}

func TestCollectAllContinuesPastFailures(t *testing.T) {
	db := newTestStore(t)
	broken := &fakeSource{name: source.SourceChat, err: errors.New("boom")}
	working := &fakeSource{name: source.SourceTracker, items: []source.Item{{
		Source:   source.SourceTracker,
		SourceID: "abc1",
		Title:    "Fix login redirect",
	}}}

	sched := New(db, []source.Source{broken, working}, nil, nil, nil, 0, 0, 0, 0, 0, 0)
	sched.CollectAll(context.Background())

	items, err := db.ListItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, items, 1, "a failing poller must not block the others")
}

func TestEvaluateSignalsAlertsOnce(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Unix() - 30*86400
	_, err := db.UpsertItem(ctx, &store.Item{
		Source: "tracker", SourceID: "stale", Title: "stale", UpdatedAt: int64p(old),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	sched := New(db, nil, nil,
		signal.NewEvaluator(db),
		alert.NewManager([]alert.Notifier{notifier}),
		0, 0, 0, 14, 5, time.Hour)

	sched.evaluateSignals(ctx)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Stalled items: 1.")

	// Same count within the cool-down stays quiet.
	sched.evaluateSignals(ctx)
	assert.Len(t, notifier.sent, 1)
}

func TestEvaluateSignalsNoNotifiers(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Unix() - 30*86400
	_, err := db.UpsertItem(ctx, &store.Item{
		Source: "tracker", SourceID: "stale", Title: "stale", UpdatedAt: int64p(old),
	})
	require.NoError(t, err)

	sched := New(db, nil, nil, signal.NewEvaluator(db), alert.NewManager(nil),
		0, 0, 0, 14, 5, time.Hour)

	// Must not panic or write debounce state when nothing can receive it.
	sched.evaluateSignals(ctx)

	_, ok, err := db.KVGet(ctx, "alert:stalled")
	require.NoError(t, err)
	assert.False(t, ok)
}
