//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/console-store/internal/testutil"
	"github.com/Sternrassler/console-store/pkg/client"
	"github.com/Sternrassler/console-store/pkg/listsource"
	"github.com/Sternrassler/console-store/pkg/metrics"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/Sternrassler/console-store/pkg/store"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})
	return redisClient
}

// newStore builds a store fetching from mock through a Redis-backed client.
func newStore(t *testing.T, mock *testutil.MockConsole, rdb *redis.Client) *store.Store {
	t.Helper()

	nop := zerolog.Nop()
	reg := schema.NewConsoleRegistry()

	cfg := client.DefaultConfig(mock.URL())
	cfg.Endpoint = "integration"
	cfg.UserAgent = "console-store-integration/1.0"
	cfg.Redis = rdb
	cfg.Registry = reg
	cfg.Logger = &nop
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	scfg := store.DefaultConfig()
	scfg.Logger = &nop
	return store.New(scfg, c, reg)
}

func newMock(t *testing.T, apps int) *testutil.MockConsole {
	t.Helper()
	data := testutil.NewDataset().Add(schema.Application, testutil.Apps("space-1", apps)...)
	mock := testutil.NewMockConsole(data, schema.NewConsoleRegistry())
	t.Cleanup(mock.Close)
	return mock
}

func waitPage(t *testing.T, st *store.Store, key string) (rows int, total int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	v, err := st.List(schema.Application, key).Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if v.Error {
		t.Fatalf("page errored: %s", v.Message)
	}
	return len(v.Rows), v.TotalResults
}

// TestFullFlow covers list -> page -> delete -> refresh through HTTP and
// Redis: the delete prunes the page locally and invalidates the cached
// collection so the refresh sees the new total.
func TestFullFlow(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t, 25)
	st := newStore(t, mock, setupRedis(t))
	key := pagination.Key("apps", "space-1")

	if err := st.Dispatch(ctx, store.SetPage{EntityType: schema.Application, Key: key, Page: 2}); err != nil {
		t.Fatal(err)
	}
	if rows, total := waitPage(t, st, key); rows != 5 || total != 25 {
		t.Fatalf("page 2: rows = %d, total = %d; want 5, 25", rows, total)
	}

	if err := st.Dispatch(ctx, store.SetPage{EntityType: schema.Application, Key: key, Page: 1}); err != nil {
		t.Fatal(err)
	}
	if rows, _ := waitPage(t, st, key); rows != 20 {
		t.Fatalf("page 1: rows = %d, want 20", rows)
	}

	src := listsource.New(listsource.DefaultConfig(), st.List(schema.Application, key), st)
	if err := src.Remove(ctx, "app-03"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if rows, _ := waitPage(t, st, key); rows != 19 {
		t.Errorf("after delete: rows = %d, want 19", rows)
	}

	before := mock.RequestCount()
	if err := st.Dispatch(ctx, store.Refresh{EntityType: schema.Application, Key: key}); err != nil {
		t.Fatal(err)
	}
	rows, total := waitPage(t, st, key)
	if rows != 20 || total != 24 {
		t.Errorf("after refresh: rows = %d, total = %d; want 20, 24", rows, total)
	}
	if mock.NotModifiedCount() != 0 {
		t.Error("refresh after delete must not be answered from the HTTP cache")
	}
	if mock.RequestCount() != before+1 {
		t.Errorf("refresh made %d requests, want 1", mock.RequestCount()-before)
	}
}

// TestSharedCacheAcrossStores runs two stores against one Redis: the second
// revalidates the first one's cached response instead of downloading it.
func TestSharedCacheAcrossStores(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t, 5)
	rdb := setupRedis(t)

	first := newStore(t, mock, rdb)
	second := newStore(t, mock, rdb)

	if _, err := first.Entity(schema.Application, "app-02").Wait(ctx); err != nil {
		t.Fatal(err)
	}
	v, err := second.Entity(schema.Application, "app-02").Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if got := v.Entity.String("entity.name"); got != "app-02" {
		t.Errorf("name = %q, want app-02", got)
	}
	if mock.ConditionalCount() != 1 || mock.NotModifiedCount() != 1 {
		t.Errorf("conditional = %d, 304s = %d; want 1, 1", mock.ConditionalCount(), mock.NotModifiedCount())
	}
}

// TestConcurrentPageRequestsCoalesce checks that concurrent selections of
// one page cost a single HTTP request.
func TestConcurrentPageRequestsCoalesce(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t, 25)
	mock.SetHandler("/v2/apps", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_results":1,"total_pages":1,"resources":[{"metadata":{"guid":"app-01"},"entity":{"name":"app-01"}}]}`))
	})
	st := newStore(t, mock, setupRedis(t))
	key := pagination.Key("apps", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Dispatch(ctx, store.SetPage{EntityType: schema.Application, Key: key, Page: 1})
		}()
	}
	wg.Wait()

	if rows, _ := waitPage(t, st, key); rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.RequestCount())
	}
}

// TestSharedQuotaBlocksOtherClients checks that quota seen by one client
// blocks requests of another client of the same endpoint.
func TestSharedQuotaBlocksOtherClients(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t, 5)
	rdb := setupRedis(t)
	mock.SetQuota(1000, 3)

	first := newStore(t, mock, rdb)
	second := newStore(t, mock, rdb)

	if _, err := first.Entity(schema.Application, "app-01").Wait(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := second.Entity(schema.Application, "app-02").Wait(ctx)
	if !errors.Is(err, client.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.RequestCount())
	}

	st := second.Tracker().State(second.Entity(schema.Application, "app-02").Fingerprint())
	if !st.Error || st.Message == "" {
		t.Errorf("request state = %+v, want error with message", st)
	}
}

// TestMetricsExposed checks that a full flow registers the HTTP and store
// metrics with the shared registry.
func TestMetricsExposed(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t, 3)
	st := newStore(t, mock, setupRedis(t))
	key := pagination.Key("metrics", "")

	st.Dispatch(ctx, store.SetPage{EntityType: schema.Application, Key: key, Page: 1})
	waitPage(t, st, key)

	for _, name := range []string{
		"console_http_requests_total",
		"console_http_cache_misses_total",
		"console_requests_total",
		"console_store_commands_total",
	} {
		n, err := promtestutil.GatherAndCount(metrics.Gatherer, name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) error = %v", name, err)
		}
		if n == 0 {
			t.Errorf("metric %s not exported", name)
		}
	}
}
