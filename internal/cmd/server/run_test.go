package serverrun

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/runtime"
	logpkg "github.com/rzbill/kvbridge/pkg/log"
)

func testConfig(t *testing.T, downstream string) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Downstream.Addr = downstream
	cfg.Upstream.WaitTimeout = config.Duration(20 * time.Millisecond)
	cfg.HTTP.Addr = ""
	return cfg
}

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
}

func seed(t *testing.T, cfg config.Config, recs ...mutation.Record) {
	t.Helper()
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	require.NoError(t, err)
	_, err = rt.Append(context.Background(), recs)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	_, err := NewLogger(cfg)
	require.Error(t, err)
}

func TestRunOnceReplicatesAndReturns(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	seed(t, cfg, mutation.Set("", "foo", "2"), mutation.SetEx("", "foo_ex", "2", 7200*time.Second))

	require.NoError(t, Run(context.Background(), Options{Config: cfg, Once: true, Logger: quietLogger()}))
	v, err := mr.Get("foo")
	require.NoError(t, err)
	require.Equal(t, "2", v)
	require.True(t, mr.Exists("foo_ex"))
}

func TestRunServesHTTPUntilCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.HTTP.Addr = freeAddr(t)
	seed(t, cfg, mutation.RPush("", "l", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Config: cfg, Logger: quietLogger()}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTP.Addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return mr.Exists("l") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.MalformedPolicy = "ignore"
	err := Run(context.Background(), Options{Config: cfg, Once: true, Logger: quietLogger()})
	require.ErrorContains(t, err, "malformedPolicy")
}
