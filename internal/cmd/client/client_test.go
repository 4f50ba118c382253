package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"

	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/runtime"
)

func staticConfig(cfg config.Config) ConfigFunc {
	return func(*cobra.Command) (config.Config, error) { return cfg, nil }
}

func testConfig(t *testing.T, downstream string) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Downstream.Addr = downstream
	cfg.Upstream.WaitTimeout = config.Duration(20 * time.Millisecond)
	return cfg
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSeedThenSyncMatchesFixture(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	out, err := run(t, NewRoot(staticConfig(cfg), nil), "seed", "--namespace", "fixture", "--db", "1")
	if err != nil {
		t.Fatalf("seed: %v (%s)", err, out)
	}
	want := len(Fixture(""))
	if !strings.Contains(out, "appended positions 1..") {
		t.Fatalf("unexpected output: %s", out)
	}

	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if got := int(rt.Changelog().LastSeq()); got != want {
		t.Fatalf("appended %d records, want %d", got, want)
	}
	if err := rt.Bridge().Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	db := mr.DB(1)
	if db.Exists("foo") || db.Exists("zfoo") {
		t.Fatalf("deleted keys still present")
	}
	if v, _ := db.Get("foo2"); v != "2" {
		t.Fatalf("foo2 = %q", v)
	}
	if ttl := db.TTL("foo_ex"); ttl < 7190*time.Second || ttl > 7200*time.Second {
		t.Fatalf("foo_ex ttl = %v", ttl)
	}
	list, err := db.List("lfoo")
	if err != nil || strings.Join(list, ",") != "a,y,z" {
		t.Fatalf("lfoo = %v (%v)", list, err)
	}
	members, err := db.Members("sfoo")
	if err != nil || strings.Join(members, ",") != "g" {
		t.Fatalf("sfoo = %v (%v)", members, err)
	}
	if v := db.HGet("hfoo", "a"); v != "1" || db.HGet("hfoo", "b") != "" {
		t.Fatalf("hfoo fields wrong")
	}
	bits, err := db.Get("bfoo")
	if err != nil || len(bits) != 900000/8+1 || bits[0] != 0 || bits[len(bits)-1] == 0 {
		t.Fatalf("bfoo wrong: len %d err %v", len(bits), err)
	}
}

func TestSeedRejectsInvalidNamespace(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	if _, err := run(t, NewRoot(staticConfig(cfg), nil), "seed", "--namespace", "bad name"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCheckpointShowAndReset(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	root := func() *cobra.Command { return NewRoot(staticConfig(cfg), nil) }

	out, err := run(t, root(), "checkpoint", "show")
	if err != nil || !strings.Contains(out, "no checkpoint") {
		t.Fatalf("show empty: %v %s", err, out)
	}
	if _, err := run(t, root(), "checkpoint", "reset", "--to", "7"); err == nil {
		t.Fatalf("reset without --confirm should fail")
	}
	if _, err := run(t, root(), "checkpoint", "reset", "--confirm"); err == nil {
		t.Fatalf("reset without --to should fail")
	}
	if _, err := run(t, root(), "checkpoint", "reset", "--to", "7", "--confirm"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err = run(t, root(), "checkpoint", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var cp struct {
		Position uint64 `json:"position"`
		RunID    string `json:"runId"`
	}
	if err := json.Unmarshal([]byte(out), &cp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if cp.Position != 7 || cp.RunID != ResetRunID {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	// Reset may move backwards.
	if _, err := run(t, root(), "checkpoint", "reset", "--to", "2", "--confirm"); err != nil {
		t.Fatalf("reset back: %v", err)
	}
	out, _ = run(t, root(), "checkpoint", "show")
	if !strings.Contains(out, `"position": 2`) {
		t.Fatalf("expected position 2: %s", out)
	}
}

func TestCheckpointPebbleBackend(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.Checkpoint.Backend = "pebble"
	if _, err := run(t, NewRoot(staticConfig(cfg), nil), "checkpoint", "reset", "--to", "3", "--confirm"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	cp, err := rt.Checkpoints().Load(context.Background())
	if err != nil || cp == nil || cp.Position != 3 {
		t.Fatalf("checkpoint = %+v (%v)", cp, err)
	}
}

func TestLagOffline(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	root := func() *cobra.Command { return NewRoot(staticConfig(cfg), nil) }
	if _, err := run(t, root(), "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := run(t, root(), "checkpoint", "reset", "--to", "10", "--confirm"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err := run(t, root(), "lag", "--offline")
	if err != nil {
		t.Fatalf("lag: %v", err)
	}
	n := len(Fixture(""))
	want := "lag: " + itoa(n-10) + " (checkpoint 10, upstream last " + itoa(n) + ")"
	if !strings.Contains(out, want) {
		t.Fatalf("got %q want %q", out, want)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestStatusAndLagOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/status":
			_, _ = io.WriteString(w, `{"name":"kvbridge","state":"running","lag":3}`)
		case "/v1/lag":
			_, _ = io.WriteString(w, `{"checkpoint":4,"upstreamLast":7,"lag":3}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	base := func() string { return srv.URL }
	root := func() *cobra.Command { return NewRoot(staticConfig(config.Default()), base) }

	out, err := run(t, root(), "status")
	if err != nil || !strings.Contains(out, `"state": "running"`) {
		t.Fatalf("status: %v %s", err, out)
	}
	out, err = run(t, root(), "lag")
	if err != nil || !strings.Contains(out, "lag: 3 (checkpoint 4, upstream last 7)") {
		t.Fatalf("lag: %v %s", err, out)
	}
}

func TestStatusReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if _, err := run(t, NewStatusCommand(func() string { return srv.URL })); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNamespaceCreatePostsBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/namespaces" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	out, err := run(t, NewNamespaceCommand(func() string { return srv.URL }), "create", "--name", "orders", "--db", "2")
	if err != nil || !strings.Contains(out, "201") {
		t.Fatalf("create: %v %s", err, out)
	}
	if got["namespace"] != "orders" || got["db"].(float64) != 2 {
		t.Fatalf("unexpected body: %v", got)
	}
}
