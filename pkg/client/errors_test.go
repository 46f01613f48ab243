package client

import (
	"net/http"
	"testing"

	"github.com/Sternrassler/console-store/pkg/fetch"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   fetch.ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusNoContent, ""},
		{http.StatusNotModified, ""},
		{http.StatusBadRequest, fetch.ErrorClassClient},
		{http.StatusForbidden, fetch.ErrorClassClient},
		{http.StatusNotFound, fetch.ErrorClassClient},
		{http.StatusTooManyRequests, fetch.ErrorClassRateLimit},
		{http.StatusInternalServerError, fetch.ErrorClassServer},
		{http.StatusBadGateway, fetch.ErrorClassServer},
		{http.StatusServiceUnavailable, fetch.ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.want {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class fetch.ErrorClass
		want  bool
	}{
		{fetch.ErrorClassClient, false},
		{fetch.ErrorClassServer, true},
		{fetch.ErrorClassRateLimit, true},
		{fetch.ErrorClassNetwork, true},
		{fetch.ErrorClassDecode, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestIdempotent(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete} {
		if !idempotent(m) {
			t.Errorf("idempotent(%s) = false", m)
		}
	}
	for _, m := range []string{http.MethodPost, http.MethodPatch} {
		if idempotent(m) {
			t.Errorf("idempotent(%s) = true", m)
		}
	}
}
