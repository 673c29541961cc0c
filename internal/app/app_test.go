package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetfeeder/internal/config"
	"tweetfeeder/internal/cursor"
	"tweetfeeder/internal/events"
	"tweetfeeder/internal/feed"
	kit "tweetfeeder/internal/transport"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	dir     string
	cfgPath string
	cfg     map[string]any
}

func newFixture(t *testing.T, items []feed.Item) *fixture {
	t.Helper()
	dir := t.TempDir()
	b, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tweet_feed.json"), b, 0o600))

	return &fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "config.json"),
		cfg: map[string]any{
			"platform": map[string]any{"driver": "dryrun", "account_id": 42, "operator_id": 7},
			"feed":     map[string]any{"path": filepath.Join(dir, "tweet_feed.json")},
			"cursor":   map[string]any{"path": filepath.Join(dir, "tweet_stats.json")},
			"schedule": map[string]any{"times": []string{}, "immediate_delay": "1ms", "min_publish_delay": "1ms"},
			"capabilities": map[string]any{
				"publish_offline": true,
				"save_index":      true,
				"log_to_file":     true,
			},
			"logging": map[string]any{"level": "error", "console": false, "file": map[string]any{"enabled": false, "path": ""}},
			"events": map[string]any{
				"store": map[string]any{"driver": "file", "path": filepath.Join(dir, "events.jsonl")},
			},
		},
	}
}

func (f *fixture) set(section, key string, v any) {
	f.cfg[section].(map[string]any)[key] = v
}

func (f *fixture) write(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(f.cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfgPath, b, 0o600))
	return f.cfgPath
}

func (f *fixture) load(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.NewConfigManager(f.write(t)).Load()
	require.NoError(t, err)
	return cfg
}

var threeItems = []feed.Item{
	{Text: "first", Title: "a", Chained: true},
	{Text: "second", Title: "b"},
	{Text: "third", Title: "c"},
}

func runUntilIdle(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	select {
	case <-a.Done():
	case <-ctx.Done():
		t.Fatal("app did not go idle")
	}
	require.NoError(t, a.Stop(context.Background(), StopIdle))
}

func TestRehearsalRunExhaustsFeed(t *testing.T) {
	f := newFixture(t, threeItems)
	out := &syncBuffer{}
	a, err := NewApp(f.write(t), WithOutput(out))
	require.NoError(t, err)

	runUntilIdle(t, a)

	assert.Contains(t, out.String(), "Tweet 1 of 3: first\n")
	assert.Contains(t, out.String(), "Tweet 3 of 3: third\n")

	cur, err := cursor.NewStore(filepath.Join(f.dir, "tweet_stats.json")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cur.FeedIndex)

	st, err := ReadStatus(context.Background(), a.cfg, time.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 3, st.FeedIndex)
	assert.Equal(t, 3, st.FeedLength)
	assert.Nil(t, st.NextFire)

	cats := make([]string, 0, len(st.Recent))
	for _, e := range st.Recent {
		cats = append(cats, e.Category)
	}
	require.NotEmpty(t, cats)
	assert.Equal(t, events.SysSetup.String(), cats[0])
	assert.Contains(t, cats, events.SysNoTweetsFound.String())
	assert.Equal(t, events.SysShutDown.String(), cats[len(cats)-1])
}

func TestOnlineWithoutTimesStopsFatal(t *testing.T) {
	f := newFixture(t, threeItems)
	f.cfg["capabilities"] = map[string]any{"publish_online": true, "save_index": true}
	a, err := NewApp(f.write(t), WithOutput(&syncBuffer{}))
	require.NoError(t, err)

	runUntilIdle(t, a)

	st := a.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, "fatal", st.Reason)
	assert.NotEmpty(t, st.LastError)
	_, err = os.Stat(filepath.Join(f.dir, "tweet_stats.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStreamOnlyLeavesCursorUntouched(t *testing.T) {
	f := newFixture(t, threeItems)
	f.cfg["capabilities"] = map[string]any{"save_index": true, "log_to_file": true, "watch_stream": true}
	f.cfg["stream"] = map[string]any{"hosts": []string{"ws://127.0.0.1:1/stream"}}
	f.set("schedule", "times", []string{time.Now().Add(time.Minute).Format("15:04")})
	a, err := NewApp(f.write(t), WithOutput(&syncBuffer{}))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	select {
	case <-a.Done():
		t.Fatal("stream listener should keep the app running")
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(t, a.StopWorker(), "no publisher is started")
	assert.Equal(t, "idle", a.Status().State)
	require.NoError(t, a.Stop(context.Background(), StopSIGTERM))

	_, err = os.Stat(filepath.Join(f.dir, "tweet_stats.json"))
	assert.True(t, os.IsNotExist(err))

	st, err := ReadStatus(context.Background(), a.cfg, time.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, st.FeedIndex)
	var stops []string
	for _, e := range st.Recent {
		if e.Category == events.SysThreadStop.String() {
			stops = append(stops, e.Text)
		}
	}
	require.Len(t, stops, 1)
	assert.Contains(t, stops[0], "publishing disabled")
}

func TestNothingEnabledShutsDown(t *testing.T) {
	f := newFixture(t, threeItems)
	f.cfg["capabilities"] = map[string]any{"save_index": true}
	a, err := NewApp(f.write(t), WithOutput(&syncBuffer{}))
	require.NoError(t, err)

	runUntilIdle(t, a)

	_, err = os.Stat(filepath.Join(f.dir, "tweet_stats.json"))
	assert.True(t, os.IsNotExist(err))
}

type recSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t, threeItems)
	a, err := NewApp(f.write(t), WithOutput(&syncBuffer{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})
	rec := &recSender{}
	a.sender = rec
	ctx := context.Background()

	a.handleCommand(ctx, kit.Command{ChatID: 1, FromID: 8, Text: "/status"})
	a.handleCommand(ctx, kit.Command{ChatID: 1, FromID: 7, Text: "hello"})
	assert.Empty(t, rec.sent)

	a.handleCommand(ctx, kit.Command{ChatID: 1, FromID: 7, Text: "/status@feederbot"})
	a.handleCommand(ctx, kit.Command{ChatID: 1, FromID: 7, Text: "/stop"})
	a.handleCommand(ctx, kit.Command{ChatID: 1, FromID: 7, Text: "/dance"})
	require.Len(t, rec.sent, 3)
	assert.True(t, strings.HasPrefix(rec.sent[0], "state=idle"))
	assert.Equal(t, "publisher is not running", rec.sent[1])
	assert.Contains(t, rec.sent[2], "unknown command /dance")
}

func TestNewAppRejectsUnknownAlertCategory(t *testing.T) {
	f := newFixture(t, threeItems)
	f.cfg["events"] = map[string]any{"alert": map[string]any{"categories": []string{"NET.GetPoke"}}}
	_, err := NewApp(f.write(t))
	require.ErrorIs(t, err, events.ErrUnknownCategory)
}

func TestMapStorageConfig(t *testing.T) {
	f := newFixture(t, threeItems)
	cfg := f.load(t)

	sc, on, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "file", sc.Driver)

	cfg.Events.Store = nil
	sc, on, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, defaultEventLog, sc.Path)

	cfg.Events.Store = &config.StorageConfig{Driver: "sqlite", Path: "events.db"}
	sc, on, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Events.Store = &config.StorageConfig{Driver: "none"}
	_, on, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, on)

	cfg.Capabilities.LogToFile = false
	cfg.Events.Store = &config.StorageConfig{Driver: "sqlite", Path: "events.db"}
	_, on, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestMapAlertCategories(t *testing.T) {
	cfg := &config.Config{}
	allow, err := mapAlertCategories(cfg)
	require.NoError(t, err)
	assert.Equal(t, events.DefaultAlertCategories, allow)

	cfg.Report.Enabled = true
	allow, err = mapAlertCategories(cfg)
	require.NoError(t, err)
	assert.Equal(t, []events.Category{events.NetGetReply, events.NetGetQuoteRetweet, events.SysStatus}, allow)
	assert.Len(t, events.DefaultAlertCategories, 2)
}

func TestMapWorkerConfigDefaults(t *testing.T) {
	cfg := &config.Config{Schedule: config.ScheduleConfig{Times: []string{"18:30", "9:00"}}}
	wc, err := mapWorkerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "18:30"}, wc.Schedule.Strings())
	assert.Equal(t, 2*time.Second, wc.ImmediateDelay)
	assert.Equal(t, 10*time.Second, wc.MinPublishDelay)
	assert.False(t, wc.Immediate)
}

func TestDescribeCapabilities(t *testing.T) {
	cfg := &config.Config{Capabilities: config.Capabilities{PublishOnline: true, SaveIndex: true}}
	wc, err := mapWorkerConfig(&config.Config{Schedule: config.ScheduleConfig{Times: []string{"12:02"}}})
	require.NoError(t, err)
	assert.Equal(t, "driver=dryrun capabilities=publish_online,save_index times=12:02", describeCapabilities(cfg, wc.Schedule))
	assert.Equal(t, "driver=dryrun capabilities=none times=none", describeCapabilities(&config.Config{}, nil))
}

func TestCheck(t *testing.T) {
	f := newFixture(t, threeItems)
	f.set("schedule", "times", []string{"18:30", "9:00"})
	rep, err := Check(context.Background(), f.write(t))
	require.NoError(t, err)
	assert.Equal(t, "dryrun", rep.Driver)
	assert.Equal(t, 3, rep.Items)
	assert.Equal(t, 2, rep.Batches)
	assert.Equal(t, []string{"09:00", "18:30"}, rep.Times)
	assert.Equal(t, []string{"NET.GetReply", "NET.GetQuoteRetweet"}, rep.Alerts)
}
