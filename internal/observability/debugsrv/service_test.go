package debugsrv

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "larder/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServeRoutesWithToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, logx.Nop())
	s.Handle("/debug/larder/snapshot", JSON(func() any { return map[string]int{"outstanding": 3} }))
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + s.Addr()

	code, _ := get(t, base+"/healthz", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, base+"/healthz", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, base+"/debug/larder/snapshot?token=s3cret", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"outstanding": 3}`, body)

	code, _ = get(t, base+"/debug/larder/snapshot?token=wrong", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestReconfigureStopsAndRefusesPublicBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	s.Reconfigure(context.Background(), Config{Enabled: false})
	assert.Empty(t, s.Addr())

	s.Reconfigure(context.Background(), Config{Enabled: true, Addr: ":0"})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, s.Addr(), "an unauthenticated public bind is refused")
	require.NoError(t, s.Stop(context.Background()))
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("10.0.0.4:6060"))
	assert.False(t, isLoopbackAddr("nope"))
}
