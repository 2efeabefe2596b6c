package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Info("ignored", String("k", "v")) })
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "test"))

	l.Debug("hidden")
	l.Warn("visible", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	assert.Equal(t, "visible", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 3, m["n"])
	assert.Equal(t, "boom", m["err"])
	assert.False(t, l.Enabled(LevelDebug))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
}

func TestServiceJSONFormatAndApply(t *testing.T) {
	var buf bytes.Buffer
	svc, l := newService(Config{Level: "info", Console: true, Format: "json"}, &buf)
	defer svc.Close()
	l = l.With(String("comp", "dispatch"))

	l.Info("delivered", Uint64("id", 7))
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	assert.Equal(t, "dispatch", m["comp"])
	assert.EqualValues(t, 7, m["id"])

	// Derived loggers follow the service across Apply.
	path := filepath.Join(t.TempDir(), "larder.log")
	buf.Reset()
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	l.Warn("dropped")
	l.Error("kept")
	assert.Zero(t, buf.Len())
	require.NoError(t, svc.Close())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(body), "\n"))
	assert.Contains(t, string(body), `"message":"kept"`)
}
