package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	feed := `[{"text":"one","title":"a","chain":true},{"text":"two","title":"b"},{"text":"three","title":"c"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feed.json"), []byte(feed), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stats.json"), []byte(`{"feed_index":2,"tweet_stats":{}}`), 0o600))

	cfg := "feed:\n  path: " + filepath.Join(dir, "feed.json") + "\n" +
		"cursor:\n  path: " + filepath.Join(dir, "stats.json") + "\n" +
		"schedule:\n  times: [\"9:00\"]\n  timezone: UTC\n" +
		"logging:\n  level: error\n  console: false\n  file: {enabled: false, path: \"\"}\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestCheckCommand(t *testing.T) {
	path := writeFiles(t)
	var out bytes.Buffer
	a := rootApp()
	a.Writer = &out

	require.NoError(t, a.Run([]string{"feeder", "check", "--config", path}))
	assert.Contains(t, out.String(), "feed:     3 items in 2 batches")
	assert.Contains(t, out.String(), "times:    09:00 (UTC)")
	assert.Contains(t, out.String(), "ok\n")
}

func TestStatusCommand(t *testing.T) {
	path := writeFiles(t)
	var out bytes.Buffer
	a := rootApp()
	a.Writer = &out

	require.NoError(t, a.Run([]string{"feeder", "status", "-c", path}))
	assert.Contains(t, out.String(), "feed index:  2 of 3")
	assert.Contains(t, out.String(), "next fire:   ")
	assert.NotContains(t, out.String(), "next fire:   none")
}

func TestCheckCommandRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"feed": {"path": ""}}`), 0o600))

	a := rootApp()
	a.Writer = &bytes.Buffer{}
	require.Error(t, a.Run([]string{"feeder", "check", "--config", path}))
}
