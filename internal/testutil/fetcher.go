package testutil

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/request"
)

// FakeFetcher is an in-process fetch.Fetcher serving a Dataset. It records
// every call and can hold fetches or inject failures.
type FakeFetcher struct {
	Data *Dataset

	mu    sync.Mutex
	calls []fetch.Request
	gate  chan struct{}
	fail  func(req fetch.Request) error
	count atomic.Int32
}

// NewFakeFetcher creates a fetcher over d.
func NewFakeFetcher(d *Dataset) *FakeFetcher {
	return &FakeFetcher{Data: d}
}

// Hold blocks every subsequent fetch until the returned release is called.
func (f *FakeFetcher) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// FailWith installs a hook returning the error a request fails with, or nil
// to serve it normally. Pass nil to clear.
func (f *FakeFetcher) FailWith(fn func(req fetch.Request) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

// Calls returns the requests received so far.
func (f *FakeFetcher) Calls() []fetch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.Request(nil), f.calls...)
}

// CallCount returns the number of requests received so far.
func (f *FakeFetcher) CallCount() int {
	return int(f.count.Load())
}

// Fetch implements fetch.Fetcher.
func (f *FakeFetcher) Fetch(ctx context.Context, fp request.Fingerprint, req fetch.Request) (fetch.Response, error) {
	f.count.Add(1)
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate, fail := f.gate, f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fetch.Response{}, ctx.Err()
		}
	}

	if fail != nil {
		if err := fail(req); err != nil {
			return fetch.Response{}, err
		}
	}

	if req.ID != "" {
		return f.entity(fp, req)
	}

	items, total, pages := f.Data.Page(req.EntityType, req.Params, req.Page, req.PageSize)
	return fetch.Response{Data: items, TotalResults: total, TotalPages: pages}, nil
}

func (f *FakeFetcher) entity(fp request.Fingerprint, req fetch.Request) (fetch.Response, error) {
	item, ok := f.Data.Get(req.EntityType, req.ID)
	if !ok {
		return fetch.Response{}, &fetch.FetchError{
			Fingerprint: fp,
			StatusCode:  http.StatusNotFound,
			Class:       fetch.ErrorClassClient,
			Message:     "404 Not Found",
		}
	}

	if req.Verb() == http.MethodDelete {
		f.Data.Remove(req.EntityType, req.ID)
		return fetch.Response{}, nil
	}
	return fetch.Response{Data: item}, nil
}
