package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/category"
	"larder/internal/notification"
	"larder/internal/rules"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func startApp(t *testing.T, path string) *App {
	t.Helper()
	a, err := New(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestRestartRestoresState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "larder.json")
	writeConfig(t, path, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"engine": {"timezone": "UTC", "escalation": {"timeout": "1h"}},
		"rules": [{"category": "recipe", "frequency": "suppressed"}],
		"storage": {"driver": "file", "path": %q, "checkpoint_interval": "50ms"}
	}`, filepath.Join(dir, "larder")))

	a := startApp(t, path)
	ctx := context.Background()
	d := a.Dispatcher()
	delivered, err := d.Error(ctx, "oven offline", "", "oven-1")
	require.NoError(t, err)
	critical, err := d.Critical(ctx, "freezer warm", "", "sensor")
	require.NoError(t, err)
	_, err = d.Recipe(ctx, "new recipe", "", "")
	require.NoError(t, err)
	batched, err := d.Inventory(ctx, "flour low", "", "")
	require.NoError(t, err)
	assert.Equal(t, notification.ActionBatch, batched.Decision.Action)
	require.NoError(t, d.MarkRead(delivered.ID))
	stopApp(t, a)

	b := startApp(t, path)
	defer stopApp(t, b)
	d2 := b.Dispatcher()

	n, err := d2.Get(delivered.ID)
	require.NoError(t, err)
	assert.True(t, n.Read)
	n, err = d2.Get(critical.ID)
	require.NoError(t, err)
	assert.False(t, n.Acknowledged)
	assert.Equal(t, 1, d2.Snapshot().Suppressed)
	// The error notification is in the critical band too.
	assert.Equal(t, 2, d2.Snapshot().Critical)

	rs := d2.Rules()
	require.Len(t, rs, 1)
	assert.Equal(t, category.Recipe, rs[0].Category)

	next, err := d2.Info(ctx, "hello", "", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next.ID)

	require.NoError(t, d2.Acknowledge(critical.ID))
}

func TestSeedCategoryRules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "larder.yaml")
	writeConfig(t, path, "logging:\n  level: error\nengine:\n  seed_category_rules: true\n")

	a := startApp(t, path)
	defer stopApp(t, a)

	want := rules.FromRegistry(category.NewRegistry())
	assert.Len(t, a.Dispatcher().Rules(), len(want))
	rc, err := a.Dispatcher().Update(context.Background(), "firmware 2.1", "", "")
	require.NoError(t, err)
	assert.Equal(t, rules.BucketDigest, rc.Decision.Bucket)
}

func TestHotReloadRules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "larder.json")
	writeConfig(t, path, `{"logging": {"level": "error"}, "rules": [{"category": "recipe", "frequency": "suppressed"}]}`)

	a := startApp(t, path)
	defer stopApp(t, a)
	d := a.Dispatcher()
	require.Len(t, d.Rules(), 1)

	deadline := time.After(5 * time.Second)
	for {
		writeConfig(t, path, `{"logging": {"level": "error"}, "rules": [
			{"category": "recipe", "frequency": "immediate"},
			{"category": "sync", "frequency": "batched", "batch_window": "1m"}
		]}`)
		if len(d.Rules()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("rules were not reloaded")
		case <-time.After(500 * time.Millisecond):
		}
	}
	rc, err := d.Sync(context.Background(), "pos synced", "", "")
	require.NoError(t, err)
	assert.Equal(t, "1m0s", rc.Decision.Bucket)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "larder.json")
	writeConfig(t, path, `{"engine": {"rate_limit_scope": "global"}}`)
	_, err := New(path)
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSinksFeedReceivesDeliveries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "larder.json")
	feed := filepath.Join(dir, "deliveries.jsonl")
	writeConfig(t, path, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"engine": {"timezone": "UTC"},
		"sinks": {"enabled": true, "feed": %q, "retry_max": 1}
	}`, feed))

	a := startApp(t, path)
	_, err := a.Dispatcher().Error(context.Background(), "dishwasher leak", "", "dw-2")
	require.NoError(t, err)
	stopApp(t, a)

	body, err := os.ReadFile(feed)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dishwasher leak")
	assert.Contains(t, string(body), `"kind":"immediate"`)
}

func TestDebugServerServesSnapshot(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "larder.json")
	writeConfig(t, path, `{
		"logging": {"level": "error"},
		"engine": {"timezone": "UTC"},
		"debug": {"enabled": true, "addr": "127.0.0.1:0"}
	}`)

	a := startApp(t, path)
	defer stopApp(t, a)
	_, err := a.Dispatcher().Critical(context.Background(), "fryer fire", "", "fryer-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.dbg.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + a.dbg.Addr() + "/debug/larder/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		Critical int `json:"critical"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Critical)
}
