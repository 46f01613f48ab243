package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/rs/zerolog"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func failing(class fetch.ErrorClass) attempt {
	return attempt{err: errors.New(string(class) + " failure"), class: class}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
}

func TestRetryConfig_ForClass(t *testing.T) {
	base := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2}

	tests := []struct {
		class       fetch.ErrorClass
		wantInitial time.Duration
		wantMax     time.Duration
	}{
		{fetch.ErrorClassServer, time.Second, 10 * time.Second},
		{fetch.ErrorClassRateLimit, 5 * time.Second, 50 * time.Second},
		{fetch.ErrorClassNetwork, 2 * time.Second, 20 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			got := base.ForClass(tt.class)
			if got.InitialBackoff != tt.wantInitial || got.MaxBackoff != tt.wantMax {
				t.Errorf("ForClass(%s) = %+v", tt.class, got)
			}
			if got.MaxAttempts != base.MaxAttempts {
				t.Errorf("MaxAttempts changed to %d", got.MaxAttempts)
			}
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	tests := []struct {
		name         string
		results      []attempt
		wantCalls    int
		wantErr      bool
		wantExhausts bool
	}{
		{
			name:      "success first try",
			results:   []attempt{{}},
			wantCalls: 1,
		},
		{
			name:      "server error then success",
			results:   []attempt{failing(fetch.ErrorClassServer), {}},
			wantCalls: 2,
		},
		{
			name:      "network then rate limit then success",
			results:   []attempt{failing(fetch.ErrorClassNetwork), failing(fetch.ErrorClassRateLimit), {}},
			wantCalls: 3,
		},
		{
			name:      "client error not retried",
			results:   []attempt{failing(fetch.ErrorClassClient)},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "decode error not retried",
			results:   []attempt{failing(fetch.ErrorClassDecode)},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:         "exhausted",
			results:      []attempt{failing(fetch.ErrorClassServer), failing(fetch.ErrorClassServer), failing(fetch.ErrorClassServer)},
			wantCalls:    3,
			wantErr:      true,
			wantExhausts: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func() attempt {
				r := tt.results[calls]
				calls++
				return r
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRetryExhausted) != tt.wantExhausts {
				t.Errorf("errors.Is(err, ErrRetryExhausted) = %v, want %v", !tt.wantExhausts, tt.wantExhausts)
			}
		})
	}
}

func TestRetryWithBackoff_ExhaustedWrapsLastError(t *testing.T) {
	last := &fetch.FetchError{StatusCode: 503, Class: fetch.ErrorClassServer, Message: "unavailable"}
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func() attempt {
		return attempt{err: last, class: fetch.ErrorClassServer}
	})

	var fe *fetch.FetchError
	if !errors.As(err, &fe) || fe != last {
		t.Errorf("exhausted error does not wrap the last failure: %v", err)
	}
}

func TestRetryWithBackoff_SingleAttempt(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxAttempts = 1

	calls := 0
	err := retryWithBackoff(context.Background(), cfg, zerolog.Nop(), func() attempt {
		calls++
		return failing(fetch.ErrorClassServer)
	})
	if calls != 1 || !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	cfg := fastRetry()
	cfg.InitialBackoff = time.Minute
	cfg.MaxBackoff = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryWithBackoff(ctx, cfg, zerolog.Nop(), func() attempt {
		return failing(fetch.ErrorClassServer)
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("err = %v, want ErrContextCancelled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff did not stop on cancellation")
	}
}

func TestRetryWithBackoff_HonoursRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), fastRetry(), zerolog.Nop(), func() attempt {
		calls++
		if calls == 1 {
			return attempt{err: errors.New("429"), class: fetch.ErrorClassRateLimit, retryAfter: 100 * time.Millisecond}
		}
		return attempt{}
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("elapsed = %v, want >= Retry-After", elapsed)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}

	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Retry-After", tt.header)
		}
		if got := retryAfter(h); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
