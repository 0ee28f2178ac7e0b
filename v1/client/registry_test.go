package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirkobrombin/warp-weather/v1/config"
	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
	"github.com/mirkobrombin/warp-weather/v1/refresh"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(WithFetcher(&fakeFetcher{}))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistryReusesClient(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Get("key-1", config.ModeOnDemand, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := r.Get("key-1", config.ModePolling, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("expected the same client for the same key")
	}
	if b.Mode() != config.ModeOnDemand {
		t.Fatalf("existing client should keep its mode, got %v", b.Mode())
	}
	c, err := r.Get("key-2", config.ModePolling, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c == a || c.Mode() != config.ModePolling {
		t.Fatal("expected a distinct polling client for another key")
	}
	if keys := r.Keys(); len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-2" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if n := len(r.Clients()); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}
}

func TestRegistryRejectsBadInput(t *testing.T) {
	r := newRegistry(t)
	if _, err := r.Get(" ", config.ModeOnDemand, config.Default()); !errors.Is(err, warperrors.ErrConfig) {
		t.Fatalf("expected config error for blank key, got %v", err)
	}
	cfg := config.Default()
	cfg.CacheTTL = 0
	if _, err := r.Get("key", config.ModeOnDemand, cfg); !errors.Is(err, warperrors.ErrConfig) {
		t.Fatalf("expected config error for invalid config, got %v", err)
	}
	if len(r.Clients()) != 0 {
		t.Fatal("failed construction must not register a client")
	}
}

func TestRegistryDeleteClosesClient(t *testing.T) {
	r := newRegistry(t)
	c, err := r.Get("key", config.ModePolling, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !r.Delete("key") {
		t.Fatal("Delete should report an existing client")
	}
	if r.Delete("key") {
		t.Fatal("second Delete should report nothing removed")
	}
	if c.sched.State() != refresh.StateStopped {
		t.Fatalf("deleted client still polling: %v", c.sched.State())
	}
	again, err := r.Get("key", config.ModeOnDemand, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again == c {
		t.Fatal("expected a new client after Delete")
	}
}

func TestRegistryConcurrentGet(t *testing.T) {
	r := newRegistry(t)
	const n = 32
	got := make([]*Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Get("shared", config.ModeOnDemand, config.Default())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent Get built more than one client")
		}
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(WithFetcher(&fakeFetcher{}))
	c, err := r.Get("key", config.ModePolling, config.Default())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(r.Clients()) != 0 {
		t.Fatal("Close should empty the registry")
	}
	if c.sched.State() != refresh.StateStopped {
		t.Fatalf("client still polling after registry Close: %v", c.sched.State())
	}
}

func TestRegistryMetricsPerClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(WithFetcher(&fakeFetcher{}), WithMetrics(reg))
	t.Cleanup(func() { _ = r.Close() })

	a, err := r.Get("key-a", config.ModePolling, config.Default())
	if err != nil {
		t.Fatalf("Get key-a: %v", err)
	}
	b, err := r.Get("key-b", config.ModeOnDemand, config.Default())
	if err != nil {
		t.Fatalf("Get key-b: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := b.GetWeather(ctx, "Oslo"); err != nil {
			t.Fatalf("GetWeather: %v", err)
		}
	}
	if v := testutil.ToFloat64(b.cache.HitCounter); v != 1 {
		t.Fatalf("key-b hits: expected 1, got %v", v)
	}
	if v := testutil.ToFloat64(a.cache.HitCounter); v != 0 {
		t.Fatalf("key-a hits: expected 0, got %v", v)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	labels := map[string]bool{}
	for _, mf := range mfs {
		if mf.GetName() != "weather_cache_entries" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if strings.Contains(lp.GetValue(), "key-") {
					t.Fatalf("api key leaked into label %s=%s", lp.GetName(), lp.GetValue())
				}
				if lp.GetName() == "client" {
					labels[lp.GetValue()] = true
				}
			}
		}
	}
	if !labels[MetricsLabel("key-a")] || !labels[MetricsLabel("key-b")] || len(labels) != 2 {
		t.Fatalf("expected one series per client, got %v", labels)
	}

	// Recreating a deleted client reuses its registered collectors.
	r.Delete("key-a")
	if _, err := r.Get("key-a", config.ModePolling, config.Default()); err != nil {
		t.Fatalf("Get after Delete: %v", err)
	}
}
