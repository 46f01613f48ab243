package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for request tracking.
var (
	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_requests_in_flight",
		Help: "Number of outstanding fetches",
	})

	requestsCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_requests_coalesced_total",
		Help: "Total number of Begin calls joined to an in-flight fetch, by fingerprint kind",
	}, []string{"kind"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_requests_total",
		Help: "Total number of settled fetches by fingerprint kind and outcome",
	}, []string{"kind", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_request_duration_seconds",
		Help:    "Fetch duration in seconds by fingerprint kind",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
)

var (
	// ErrAlreadyInFlight is the coalescing signal returned by Begin together
	// with the call already outstanding for the fingerprint. It is not a
	// failure: wait on the returned call.
	ErrAlreadyInFlight = errors.New("request already in flight")

	// ErrNotInFlight is returned when settling a fingerprint with no
	// outstanding call.
	ErrNotInFlight = errors.New("request not in flight")
)

// Call is one outstanding operation shared by every caller of its
// fingerprint.
type Call struct {
	fingerprint Fingerprint
	started     time.Time
	done        chan struct{}
	result      any
	err         error
}

// Fingerprint returns the fingerprint of the call.
func (c *Call) Fingerprint() Fingerprint {
	return c.fingerprint
}

// Done is closed when the call settles.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. Giving up on the wait
// does not cancel the call.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StateChange is published whenever a fingerprint's State changes.
type StateChange struct {
	Fingerprint Fingerprint
	State       State
}

// Config holds tracker configuration.
type Config struct {
	// Now is the clock used for LastUpdated (default: time.Now).
	Now func() time.Time

	// Logger (default: global logger with component "request-tracker").
	Logger *zerolog.Logger
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{Now: time.Now}
}

// Tracker records one State per fingerprint and coalesces concurrent
// operations on the same fingerprint.
type Tracker struct {
	mu       sync.Mutex
	states   map[Fingerprint]State
	inflight map[Fingerprint]*Call
	changes  *observable.Subject[StateChange]
	now      func() time.Time
	logger   zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.With().Str("component", "request-tracker").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Tracker{
		states:   make(map[Fingerprint]State),
		inflight: make(map[Fingerprint]*Call),
		changes:  observable.NewSubject[StateChange](),
		now:      cfg.Now,
		logger:   logger,
	}
}

// Begin marks fp as fetching and returns a new call. If fp is already
// fetching it returns the outstanding call and ErrAlreadyInFlight instead of
// starting another.
func (t *Tracker) Begin(fp Fingerprint) (*Call, error) {
	t.mu.Lock()
	if c, ok := t.inflight[fp]; ok {
		t.mu.Unlock()
		requestsCoalescedTotal.WithLabelValues(fp.Kind()).Inc()
		t.logger.Debug().Str("fingerprint", string(fp)).Msg("Joined in-flight request")
		return c, ErrAlreadyInFlight
	}

	c := &Call{fingerprint: fp, started: t.now(), done: make(chan struct{})}
	t.inflight[fp] = c

	st := t.states[fp]
	st.Fetching = true
	st.Error = false
	st.Message = ""
	st.Invalidated = false
	t.states[fp] = st
	t.mu.Unlock()

	requestsInFlight.Inc()
	t.logger.Debug().Str("fingerprint", string(fp)).Msg("Request started")
	t.changes.Next(StateChange{Fingerprint: fp, State: st})
	return c, nil
}

// Complete settles fp successfully.
func (t *Tracker) Complete(fp Fingerprint, result any) error {
	return t.settle(fp, result, nil)
}

// Fail settles fp with an error. Entity data already cached is untouched.
func (t *Tracker) Fail(fp Fingerprint, err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	return t.settle(fp, nil, err)
}

func (t *Tracker) settle(fp Fingerprint, result any, err error) error {
	t.mu.Lock()
	c, ok := t.inflight[fp]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("settle %s: %w", fp, ErrNotInFlight)
	}
	delete(t.inflight, fp)

	prev := t.states[fp]
	st := State{
		LastUpdated: t.now(),
		// An Invalidate issued while fetching survives the settle: the
		// result may predate it.
		Invalidated: prev.Invalidated,
	}
	if err != nil {
		st.Error = true
		st.Message = err.Error()
	}
	t.states[fp] = st
	t.mu.Unlock()

	c.result = result
	c.err = err
	close(c.done)

	outcome := "success"
	if err != nil {
		outcome = "error"
		t.logger.Warn().Err(err).Str("fingerprint", string(fp)).Msg("Request failed")
	} else {
		t.logger.Debug().Str("fingerprint", string(fp)).Msg("Request completed")
	}
	requestsInFlight.Dec()
	requestsTotal.WithLabelValues(fp.Kind(), outcome).Inc()
	requestDuration.WithLabelValues(fp.Kind()).Observe(st.LastUpdated.Sub(c.started).Seconds())

	t.changes.Next(StateChange{Fingerprint: fp, State: st})
	return nil
}

// Invalidate forces the next Begin for fp to fetch even if it settled
// successfully.
func (t *Tracker) Invalidate(fp Fingerprint) {
	t.mu.Lock()
	st, ok := t.states[fp]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.Invalidated = true
	t.states[fp] = st
	t.mu.Unlock()

	t.logger.Debug().Str("fingerprint", string(fp)).Msg("Request invalidated")
	t.changes.Next(StateChange{Fingerprint: fp, State: st})
}

// Forget drops the state of fp. Outstanding calls are unaffected.
func (t *Tracker) Forget(fp Fingerprint) {
	t.mu.Lock()
	_, inflight := t.inflight[fp]
	if !inflight {
		delete(t.states, fp)
	}
	t.mu.Unlock()
}

// State returns the state of fp; the zero State if it was never begun.
func (t *Tracker) State(fp Fingerprint) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[fp]
}

// Valid reports whether fp settled successfully and was not invalidated.
func (t *Tracker) Valid(fp Fingerprint) bool {
	return t.State(fp).Valid()
}

// InFlight returns the outstanding call for fp, if any.
func (t *Tracker) InFlight(fp Fingerprint) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.inflight[fp]
	return c, ok
}

// Snapshot copies every state.
func (t *Tracker) Snapshot() map[Fingerprint]State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Fingerprint]State, len(t.states))
	for fp, st := range t.states {
		out[fp] = st
	}
	return out
}

// Changes streams every state transition.
func (t *Tracker) Changes() observable.Observable[StateChange] {
	return t.changes
}

// Watch streams the state of fp: the current value, then every change.
func (t *Tracker) Watch(fp Fingerprint) observable.Observable[State] {
	return observable.Func[State](func(next func(State)) *observable.Subscription {
		sub := t.changes.Subscribe(func(c StateChange) {
			if c.Fingerprint == fp {
				next(c.State)
			}
		})
		next(t.State(fp))
		return sub
	})
}

// Start runs fn for fp unless a call is already outstanding, and returns the
// call every caller shares. fn runs on its own goroutine with a context that
// keeps ctx's values but not its cancellation: abandoning a view never
// cancels a fetch that has begun.
func (t *Tracker) Start(ctx context.Context, fp Fingerprint, fn func(ctx context.Context) (any, error)) *Call {
	c, err := t.Begin(fp)
	if errors.Is(err, ErrAlreadyInFlight) {
		return c
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		result, err := t.run(detached, fn)
		if err != nil {
			_ = t.Fail(fp, err)
			return
		}
		_ = t.Complete(fp, result)
	}()
	return c
}

// Do is Start followed by Wait.
func (t *Tracker) Do(ctx context.Context, fp Fingerprint, fn func(ctx context.Context) (any, error)) (any, error) {
	return t.Start(ctx, fp, fn).Wait(ctx)
}

func (t *Tracker) run(ctx context.Context, fn func(ctx context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request panicked: %v", r)
		}
	}()
	return fn(ctx)
}
