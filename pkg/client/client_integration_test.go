//go:build integration

package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/console-store/internal/testutil"
	"github.com/Sternrassler/console-store/pkg/cache"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
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

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})
	return client
}

func newCachingClient(t *testing.T, apps int) (*Client, *testutil.MockConsole) {
	t.Helper()

	reg := schema.NewConsoleRegistry()
	mock := testutil.NewMockConsole(testutil.NewDataset().Add(schema.Application, testutil.Apps("space-1", apps)...), reg)
	t.Cleanup(mock.Close)

	nop := zerolog.Nop()
	cfg := DefaultConfig(mock.URL())
	cfg.Endpoint = "cf-test"
	cfg.Redis = setupRedisContainer(t)
	cfg.Registry = reg
	cfg.Retry = fastRetry()
	cfg.Logger = &nop

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, mock
}

func TestIntegration_ConditionalRevalidation(t *testing.T) {
	c, mock := newCachingClient(t, 5)
	ctx := context.Background()
	req := fetch.Request{EntityType: schema.Application, ID: "app-03"}

	first, err := c.Fetch(ctx, "fp", req)
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if mock.ConditionalCount() != 0 {
		t.Error("first request must not be conditional")
	}

	second, err := c.Fetch(ctx, "fp", req)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if mock.ConditionalCount() != 1 || mock.NotModifiedCount() != 1 {
		t.Errorf("conditional = %d, 304s = %d; want 1, 1", mock.ConditionalCount(), mock.NotModifiedCount())
	}

	name := func(r fetch.Response) any { return r.Data.(map[string]any)["entity"].(map[string]any)["name"] }
	if name(first) != "app-03" || name(second) != "app-03" {
		t.Errorf("bodies differ: %v vs %v", first.Data, second.Data)
	}
}

func TestIntegration_ChangedResourceRefetched(t *testing.T) {
	c, mock := newCachingClient(t, 5)
	ctx := context.Background()
	page := fetch.Request{EntityType: schema.Application, Page: 1, PageSize: 10}

	if _, err := c.Fetch(ctx, "fp", page); err != nil {
		t.Fatal(err)
	}

	mock.Data.Add(schema.Application, testutil.Resource("app-99", map[string]any{"name": "app-99"}))

	resp, err := c.Fetch(ctx, "fp", page)
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 6 {
		t.Errorf("TotalResults = %d, want 6 (stale body served)", resp.TotalResults)
	}
	if mock.NotModifiedCount() != 0 {
		t.Error("changed collection must not be answered with 304")
	}
}

func TestIntegration_DeleteInvalidatesCache(t *testing.T) {
	c, _ := newCachingClient(t, 3)
	ctx := context.Background()

	get := fetch.Request{EntityType: schema.Application, ID: "app-01"}
	if _, err := c.Fetch(ctx, "fp", get); err != nil {
		t.Fatal(err)
	}

	key := cache.Key{Endpoint: "cf-test", Path: "/v2/apps/app-01"}
	if _, err := c.Cache().Get(ctx, key); err != nil {
		t.Fatalf("entity not cached: %v", err)
	}

	if _, err := c.Fetch(ctx, "fp", fetch.Request{Method: http.MethodDelete, EntityType: schema.Application, ID: "app-01"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Cache().Get(ctx, key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("cache entry survived delete: %v", err)
	}

	_, err := c.Fetch(ctx, "fp", get)
	var fe *fetch.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Errorf("deleted entity: err = %v, want 404", err)
	}
}

func TestIntegration_QuotaBlocksRequests(t *testing.T) {
	c, mock := newCachingClient(t, 3)
	ctx := context.Background()
	mock.SetQuota(1000, 5)

	if _, err := c.Fetch(ctx, "fp", fetch.Request{EntityType: schema.Application, ID: "app-01"}); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}

	_, err := c.Fetch(ctx, "fp-2", fetch.Request{EntityType: schema.Application, ID: "app-02"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	var fe *fetch.FetchError
	if !errors.As(err, &fe) || fe.Class != fetch.ErrorClassRateLimit || fe.Fingerprint != "fp-2" {
		t.Errorf("FetchError = %+v", fe)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("blocked request reached the server: %d requests", mock.RequestCount())
	}
}
