package publisher

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetfeeder/internal/cursor"
	"tweetfeeder/internal/events"
	"tweetfeeder/internal/feed"
	"tweetfeeder/internal/schedule"
	logx "tweetfeeder/pkg/logx"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs before the n-th (1-based) sleep returns.
	onSleep map[int]func()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	hook := c.onSleep[len(c.sleeps)]
	c.now = c.now.Add(d)
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

type fakeClient struct {
	mu     sync.Mutex
	texts  []string
	failAt int // 1-based call number that fails; 0 never
}

func (f *fakeClient) Publish(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == len(f.texts)+1 {
		return "", errors.New("rate limited")
	}
	f.texts = append(f.texts, text)
	return "id" + string(rune('0'+len(f.texts))), nil
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(c events.Category, text string) events.Event {
	e := events.Event{Category: c, Severity: c.Severity(), Text: text}
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
	return e
}

func (r *recorder) cats() []events.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Category, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Category
	}
	return out
}

func (r *recorder) tail(n int) []events.Category {
	c := r.cats()
	return c[len(c)-n:]
}

type fixture struct {
	clock  *fakeClock
	client *fakeClient
	rec    *recorder
	store  *cursor.Store
	out    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		clock:  &fakeClock{now: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		client: &fakeClient{},
		rec:    &recorder{},
		store:  cursor.NewStore(filepath.Join(t.TempDir(), "index.json")),
		out:    &bytes.Buffer{},
	}
}

func (f *fixture) worker(cfg Config, items feed.Slice) *Worker {
	return New(cfg, Deps{
		Loader:    feed.NewLoader(items),
		Cursor:    f.store,
		Client:    f.client,
		Events:    f.rec,
		Clock:     f.clock,
		Rehearsal: f.out,
		Log:       logx.Nop(),
	})
}

func (f *fixture) savedIndex(t *testing.T) int {
	t.Helper()
	c, err := cursor.NewStore(f.store.Path()).Load(context.Background())
	require.NoError(t, err)
	return c.FeedIndex
}

func onlineCfg() Config {
	return Config{
		Immediate:       true,
		ImmediateDelay:  2 * time.Second,
		MinPublishDelay: 10 * time.Second,
		PublishOnline:   true,
		SaveIndex:       true,
		SaveStats:       true,
	}
}

func TestRunPublishesUntilExhausted(t *testing.T) {
	f := newFixture(t)
	items := feed.Slice{{Text: "a", Title: "A", Chained: true}, {Text: "b", Title: "B"}, {Text: "c", Title: "C"}}
	w := f.worker(onlineCfg(), items)

	reason, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, reason)

	assert.Equal(t, []string{"a\n1 of 3", "b\n2 of 3", "c\n3 of 3"}, f.client.texts)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second, 2 * time.Second}, f.clock.sleeps)
	assert.Equal(t, 3, f.savedIndex(t))

	assert.Equal(t, []events.Category{
		events.SysThreadStart,
		events.SysLoadTweet, events.NetSendTweet, events.NetSendTweet,
		events.SysLoadTweet, events.NetSendTweet,
		events.SysNoTweetsFound, events.SysThreadStop,
	}, f.rec.cats())

	p := w.Progress()
	assert.Equal(t, StateStopped, p.State)
	assert.Equal(t, 3, p.FeedIndex)
	assert.Equal(t, 3, p.FeedLength)
	assert.Equal(t, 3, p.Published)
	assert.Empty(t, p.LastError)

	c, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cursor.Stat{Title: "B"}, c.TweetStats["id2"])
}

func TestRunResumesFromCursor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), cursor.Cursor{FeedIndex: 2}))
	w := f.worker(onlineCfg(), feed.Slice{{Text: "a"}, {Text: "b"}, {Text: "c"}})

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c\n3 of 3"}, f.client.texts)
}

func TestRunSendFailurePersistsPartialProgress(t *testing.T) {
	f := newFixture(t)
	f.client.failAt = 2
	items := feed.Slice{{Text: "a", Chained: true}, {Text: "b", Chained: true}, {Text: "c"}}
	w := f.worker(onlineCfg(), items)

	reason, err := w.Run(context.Background())
	assert.Equal(t, ReasonFatal, reason)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	assert.Equal(t, 1, f.savedIndex(t))
	assert.Equal(t, []events.Category{events.SysPublishFailed, events.SysThreadStop}, f.rec.tail(2))
	assert.Equal(t, ReasonFatal, w.Progress().Reason)
	assert.NotEmpty(t, w.Progress().LastError)
}

func TestRunWithoutScheduleIsFatal(t *testing.T) {
	f := newFixture(t)
	cfg := onlineCfg()
	cfg.Immediate = false
	w := f.worker(cfg, feed.Slice{{Text: "a"}})

	reason, err := w.Run(context.Background())
	assert.Equal(t, ReasonFatal, reason)
	assert.ErrorIs(t, err, ErrNoFireTime)
	assert.Empty(t, f.client.texts)
	assert.Equal(t, []events.Category{events.SysNoTimesFound, events.SysThreadStop}, f.rec.tail(2))
	assert.Equal(t, events.Error, f.rec.evs[len(f.rec.evs)-2].Severity)
}

func TestRunWaitsForScheduledSlot(t *testing.T) {
	f := newFixture(t)
	cfg := onlineCfg()
	cfg.Schedule = schedule.Schedule{{Hour: 12, Minute: 2}}
	w := f.worker(cfg, feed.Slice{{Text: "a"}})

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, f.clock.sleeps)
	assert.Equal(t, 4*time.Hour+2*time.Minute, f.clock.sleeps[0])
}

func TestRunCancelWhileWaiting(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onSleep = map[int]func(){1: cancel}
	w := f.worker(onlineCfg(), feed.Slice{{Text: "a"}})

	reason, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonStoppedByOperator, reason)
	assert.Empty(t, f.client.texts)
	assert.Equal(t, 0, f.savedIndex(t))
	assert.Equal(t, []events.Category{events.SysStoppedByOperator, events.SysThreadStop}, f.rec.tail(2))
}

func TestRunCancelMidBatchPersistsPartialProgress(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Sleep 1 is the fire wait, sleep 2 the inter-item delay.
	f.clock.onSleep = map[int]func(){2: cancel}
	w := f.worker(onlineCfg(), feed.Slice{{Text: "a", Chained: true}, {Text: "b"}})

	reason, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonStoppedByOperator, reason)
	assert.Equal(t, []string{"a\n1 of 2"}, f.client.texts)
	assert.Equal(t, 1, f.savedIndex(t))
}

func TestRunRehearsal(t *testing.T) {
	f := newFixture(t)
	cfg := Config{Immediate: true, ImmediateDelay: time.Second, PublishOffline: true, SaveIndex: true}
	w := f.worker(cfg, feed.Slice{{Text: "a", Chained: true}, {Text: "b"}})

	reason, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, reason)
	assert.Empty(t, f.client.texts)
	assert.Equal(t, "Tweet 1 of 2: a\nTweet 2 of 2: b\n", f.out.String())
	assert.Equal(t, 2, f.savedIndex(t))
	assert.NotContains(t, f.rec.cats(), events.NetSendTweet)
}

type failingStore struct {
	*cursor.Store
}

func (failingStore) Save(context.Context, cursor.Cursor) error { return errors.New("read-only fs") }

func TestRunPersistFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	w := New(onlineCfg(), Deps{
		Loader: feed.NewLoader(feed.Slice{{Text: "a"}, {Text: "b"}}),
		Cursor: failingStore{f.store},
		Client: f.client,
		Events: f.rec,
		Clock:  f.clock,
	})

	reason, err := w.Run(context.Background())
	assert.Equal(t, ReasonFatal, reason)
	require.Error(t, err)
	assert.Equal(t, []string{"a\n1 of 2"}, f.client.texts, "loop never advances past a failed persist")
	assert.Equal(t, 0, w.Progress().FeedIndex)
	assert.Equal(t, []events.Category{events.SysPersistFailed, events.SysThreadStop}, f.rec.tail(2))
}

func TestRunRequiresExclusiveCursor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Claim())
	w := f.worker(onlineCfg(), feed.Slice{{Text: "a"}})

	reason, err := w.Run(context.Background())
	assert.Equal(t, ReasonFatal, reason)
	assert.ErrorIs(t, err, cursor.ErrClaimed)
	assert.Equal(t, []events.Category{events.SysLoadFailed, events.SysThreadStop}, f.rec.cats())
	assert.Equal(t, StateStopped, w.Progress().State)
}
