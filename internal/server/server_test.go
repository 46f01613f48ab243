package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/console-store/internal/testutil"
	"github.com/Sternrassler/console-store/pkg/listsource"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/Sternrassler/console-store/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, apps int) (*httptest.Server, *testutil.FakeFetcher) {
	t.Helper()
	return newDatasetServer(t, testutil.NewDataset().Add(schema.Application, testutil.Apps("space-1", apps)...))
}

func newDatasetServer(t *testing.T, data *testutil.Dataset) (*httptest.Server, *testutil.FakeFetcher) {
	t.Helper()
	fetcher := testutil.NewFakeFetcher(data)

	nop := zerolog.Nop()
	cfg := store.DefaultConfig()
	cfg.Logger = &nop
	st := store.New(cfg, fetcher, schema.NewConsoleRegistry())

	srv := httptest.NewServer(New(Config{PageSize: 20, Logger: &nop}, st).Handler())
	t.Cleanup(srv.Close)
	return srv, fetcher
}

func do(t *testing.T, method, url string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func getPage(t *testing.T, url string) listsource.Page {
	t.Helper()
	status, body := do(t, http.MethodGet, url)
	require.Equal(t, http.StatusOK, status, string(body))

	var p listsource.Page
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func rowNames(p listsource.Page) []string {
	names := make([]string, 0, len(p.Rows))
	for _, r := range p.Rows {
		names = append(names, r.Entity.String("entity.name"))
	}
	return names
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	status, body := do(t, http.MethodGet, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))

	status, _ = do(t, http.MethodGet, srv.URL+"/ready")
	assert.Equal(t, http.StatusOK, status)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, 3)
	getPage(t, srv.URL+"/api/v2/apps")

	status, body := do(t, http.MethodGet, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "console_pagination_fetches_total")
	assert.Contains(t, string(body), "console_store_commands_total")
}

func TestList_Pagination(t *testing.T) {
	srv, fetcher := newTestServer(t, 25)

	p := getPage(t, srv.URL+"/api/v2/apps?page=2")
	assert.Equal(t, 25, p.TotalResults)
	assert.Equal(t, 2, p.PageNumber)
	assert.Equal(t, 20, p.PageSize)
	assert.Len(t, p.Rows, 5)
	assert.Equal(t, "app-21", p.Rows[0].ID)

	calls := fetcher.CallCount()
	again := getPage(t, srv.URL+"/api/v2/apps?page=2")
	assert.Equal(t, p.Rows[0].ID, again.Rows[0].ID)
	assert.Equal(t, calls, fetcher.CallCount(), "fetched page must be served from the store")
}

func TestList_TypeNameAccepted(t *testing.T) {
	srv, _ := newTestServer(t, 3)
	p := getPage(t, srv.URL+"/api/v2/application")
	assert.Len(t, p.Rows, 3)
}

func TestList_RemoteSettings(t *testing.T) {
	srv, fetcher := newTestServer(t, 25)

	p := getPage(t, srv.URL+"/api/v2/apps?q=app-1&page-size=5")
	assert.Equal(t, 10, p.TotalResults)
	assert.Equal(t, []string{"app-10", "app-11", "app-12", "app-13", "app-14"}, rowNames(p))

	last := fetcher.Calls()[len(fetcher.Calls())-1]
	assert.Equal(t, "name:app-1", last.Params[listsource.ParamQuery])

	p = getPage(t, srv.URL+"/api/v2/apps?order-by=name&order-direction=desc&page-size=3")
	assert.Equal(t, []string{"app-25", "app-24", "app-23"}, rowNames(p))
}

func TestList_SettingsDoNotResetOtherViews(t *testing.T) {
	srv, fetcher := newTestServer(t, 25)

	getPage(t, srv.URL+"/api/v2/apps?page=2")
	getPage(t, srv.URL+"/api/v2/apps?q=app-2")
	calls := fetcher.CallCount()

	p := getPage(t, srv.URL+"/api/v2/apps?page=2")
	assert.Len(t, p.Rows, 5)
	assert.Equal(t, calls, fetcher.CallCount())
}

func TestList_CollectionsInSequence(t *testing.T) {
	data := testutil.NewDataset().
		Add(schema.Application, testutil.Apps("space-1", 3)...).
		Add(schema.Space,
			testutil.Resource("space-1", map[string]any{"name": "dev"}),
			testutil.Resource("space-2", map[string]any{"name": "prod"}),
		)
	srv, fetcher := newDatasetServer(t, data)

	apps := getPage(t, srv.URL+"/api/v2/apps")
	assert.Equal(t, []string{"app-01", "app-02", "app-03"}, rowNames(apps))

	spaces := getPage(t, srv.URL+"/api/v2/spaces")
	assert.Equal(t, []string{"dev", "prod"}, rowNames(spaces))
	assert.Equal(t, 2, spaces.TotalResults)

	calls := fetcher.Calls()
	assert.Equal(t, schema.Space, calls[len(calls)-1].EntityType)
}

func TestList_ConcurrentFirstRequests(t *testing.T) {
	srv, fetcher := newTestServer(t, 25)
	release := fetcher.Hold()
	defer release()

	const n = 8
	url := srv.URL + "/api/v2/apps?order-by=name&order-direction=desc&page-size=3"
	bodies := make(chan []byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(url)
			if err != nil {
				bodies <- nil
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			bodies <- body
		}()
	}

	require.Eventually(t, func() bool { return fetcher.CallCount() >= 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()
	close(bodies)

	for body := range bodies {
		var p listsource.Page
		require.NoError(t, json.Unmarshal(body, &p), string(body))
		assert.Equal(t, []string{"app-25", "app-24", "app-23"}, rowNames(p))
	}
	assert.Equal(t, 1, fetcher.CallCount(), "identical views share one configured section")
}

func TestList_Refresh(t *testing.T) {
	srv, fetcher := newTestServer(t, 5)

	getPage(t, srv.URL+"/api/v2/apps")
	fetcher.Data.Add(schema.Application, testutil.Resource("app-99", map[string]any{"name": "app-99"}))

	p := getPage(t, srv.URL+"/api/v2/apps")
	assert.Equal(t, 5, p.TotalResults, "cached page")

	p = getPage(t, srv.URL+"/api/v2/apps?refresh=true")
	assert.Equal(t, 6, p.TotalResults)
}

func TestList_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, 3)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v2/widgets", http.StatusNotFound},
		{"/api/v2/apps?page=0", http.StatusBadRequest},
		{"/api/v2/apps?page=x", http.StatusBadRequest},
		{"/api/v2/apps?page-size=-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, _ := do(t, http.MethodGet, srv.URL+tt.path)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestEntity(t *testing.T) {
	srv, _ := newTestServer(t, 5)

	status, body := do(t, http.MethodGet, srv.URL+"/api/v2/apps/app-03")
	require.Equal(t, http.StatusOK, status, string(body))

	var v struct {
		Entity map[string]any `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "app-03", v.Entity["entity"].(map[string]any)["name"])

	status, body = do(t, http.MethodGet, srv.URL+"/api/v2/apps/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "404")
}

func TestDelete_PrunesLists(t *testing.T) {
	srv, fetcher := newTestServer(t, 25)

	p := getPage(t, srv.URL+"/api/v2/apps")
	require.Len(t, p.Rows, 20)

	status, _ := do(t, http.MethodDelete, srv.URL+"/api/v2/apps/app-03")
	require.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 24, fetcher.Data.Len(schema.Application))

	p = getPage(t, srv.URL+"/api/v2/apps")
	assert.Len(t, p.Rows, 19)
	assert.NotContains(t, rowNames(p), "app-03")

	status, _ = do(t, http.MethodDelete, srv.URL+"/api/v2/apps/app-03")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	getPage(t, srv.URL+"/api/v2/apps")

	status, body := do(t, http.MethodGet, srv.URL+"/api/store")
	require.Equal(t, http.StatusOK, status)

	var snap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Contains(t, snap, "entities")
	assert.Contains(t, snap, "requests")
	assert.Contains(t, snap, "pagination")
	assert.True(t, strings.Contains(string(snap["entities"]), "app-02"))
}

func TestResolveType(t *testing.T) {
	reg := schema.NewConsoleRegistry()

	tests := []struct {
		name string
		want schema.EntityType
		ok   bool
	}{
		{"apps", schema.Application, true},
		{"application", schema.Application, true},
		{"service_instances", schema.ServiceInstance, true},
		{"endpoints", schema.Endpoint, true},
		{"widgets", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveType(reg, tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListViewKey(t *testing.T) {
	a := listView{entityType: schema.Application, pageSize: 20}
	b := listView{entityType: schema.Application, pageSize: 20, text: "web"}
	c := listView{entityType: schema.Application, pageSize: 10}
	d := listView{entityType: schema.Space, pageSize: 20}

	assert.NotEqual(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), c.key())
	assert.NotEqual(t, a.key(), d.key())
	assert.Equal(t, a.key(), listView{entityType: schema.Application, pageSize: 20}.key())
}
