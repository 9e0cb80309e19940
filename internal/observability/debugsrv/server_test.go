package debugsrv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func waitAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debug server did not bind")
	return ""
}

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServeEndpoints(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remindbot_jobs_armed 3\n"))
	})
	var down atomic.Bool
	health := func() error {
		if down.Load() {
			return errors.New("scheduler stopped")
		}
		return nil
	}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, metrics, health, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	base := "http://" + waitAddr(t, s)

	if code, _ := get(t, base+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", code)
	}
	if code, body := get(t, base+"/healthz", "s3cret"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, body := get(t, base+"/metrics?token=s3cret", ""); code != http.StatusOK || !strings.Contains(body, "jobs_armed 3") {
		t.Fatalf("metrics: %d %q", code, body)
	}
	if code, body := get(t, base+"/debug/pprof/", "s3cret"); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index: %d", code)
	}

	down.Store(true)
	if code, body := get(t, base+"/healthz", "s3cret"); code != http.StatusServiceUnavailable || !strings.Contains(body, "scheduler stopped") {
		t.Fatalf("unhealthy: %d %q", code, body)
	}
}

func TestReconfigureDisableStops(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", Prefix: "pp"}
	s := New(cfg, nil, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.Reconfigure(ctx, cfg)
	base := "http://" + waitAddr(t, s)
	if code, _ := get(t, base+"/pp/", ""); code != http.StatusOK {
		t.Fatalf("custom prefix: status %d", code)
	}
	if code, _ := get(t, base+"/metrics", ""); code != http.StatusNotFound {
		t.Fatalf("metrics without collector: status %d", code)
	}

	cfg.Enabled = false
	s.Reconfigure(ctx, cfg)
	if a := s.Addr(); a != "" {
		t.Fatalf("still bound at %s", a)
	}
}

func TestNeedsRestart(t *testing.T) {
	t.Parallel()
	a := Config{Enabled: true, Addr: "127.0.0.1:6060"}
	b := a
	b.Prefix = "/debug/pprof"
	if needsRestart(a, b) {
		t.Fatal("equivalent prefixes should not restart")
	}
	b.Token = "x"
	if !needsRestart(a, b) {
		t.Fatal("token change should restart")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.4:6060":  false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
