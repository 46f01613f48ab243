// Package store wires the console store together: the entity store, the
// request tracker, the pagination controller and the monitor factory, behind
// a single command queue.
//
// Example usage:
//
//	st := store.New(store.DefaultConfig(), client, schema.NewConsoleRegistry())
//	key := pagination.Key("cf-space-apps", spaceGUID)
//	err := st.Dispatch(ctx,
//		store.AddParams{EntityType: schema.Application, Key: key, Params: map[string]string{"q": "name:web"}},
//		store.SetPage{EntityType: schema.Application, Key: key, Page: 1},
//	)
//	page, err := st.Monitors().Pagination(schema.Application, key).Wait(ctx)
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/monitor"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the command queue.
var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_store_commands_total",
		Help: "Total number of applied commands by command and outcome",
	}, []string{"command", "outcome"})

	commandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_store_command_queue_depth",
		Help: "Number of commands waiting to be applied",
	})
)

// Config holds store configuration.
type Config struct {
	Pagination pagination.Config
	Tracker    request.Config

	// Logger (default: global logger with component "store"). When set it
	// also becomes the parent of tracker and pagination loggers left nil.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Pagination: pagination.DefaultConfig(),
		Tracker:    request.DefaultConfig(),
	}
}

// Store is the composition root of the console store.
type Store struct {
	registry   *schema.Registry
	fetcher    fetch.Fetcher
	entities   *entity.Store
	tracker    *request.Tracker
	pagination *pagination.Controller
	monitors   *monitor.Factory
	logger     zerolog.Logger

	qmu      sync.Mutex
	queue    []queued
	draining bool
}

// New creates a store fetching through f.
func New(cfg Config, f fetch.Fetcher, reg *schema.Registry) *Store {
	logger := log.With().Str("component", "store").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
		if cfg.Tracker.Logger == nil {
			l := cfg.Logger.With().Str("component", "request-tracker").Logger()
			cfg.Tracker.Logger = &l
		}
		if cfg.Pagination.Logger == nil {
			l := cfg.Logger.With().Str("component", "pagination").Logger()
			cfg.Pagination.Logger = &l
		}
	}

	entities := entity.NewStore()
	tracker := request.NewTracker(cfg.Tracker)
	ctrl := pagination.NewController(cfg.Pagination, f, reg, entities, tracker)

	return &Store{
		registry:   reg,
		fetcher:    f,
		entities:   entities,
		tracker:    tracker,
		pagination: ctrl,
		monitors:   monitor.NewFactory(entities, tracker, ctrl, f, reg),
		logger:     logger,
	}
}

// Registry returns the schema registry.
func (s *Store) Registry() *schema.Registry { return s.registry }

// Fetcher returns the fetcher used for every remote operation.
func (s *Store) Fetcher() fetch.Fetcher { return s.fetcher }

// Entities returns the canonical entity store.
func (s *Store) Entities() *entity.Store { return s.entities }

// Tracker returns the request tracker.
func (s *Store) Tracker() *request.Tracker { return s.tracker }

// Pagination returns the pagination controller.
func (s *Store) Pagination() *pagination.Controller { return s.pagination }

// Monitors returns the shared monitor factory.
func (s *Store) Monitors() *monitor.Factory { return s.monitors }

// Dispatch applies cmds in FIFO order and returns once all of them have been
// applied, joining their errors. When another goroutine is draining the queue
// the commands are appended behind everything queued before them and Dispatch
// waits for that drain to reach them, or for ctx to be done.
//
// Commands may dispatch further commands with the context they were applied
// with; those are queued behind the running batch and Dispatch returns nil
// for them immediately. Code reacting to store changes uses Enqueue.
func (s *Store) Dispatch(ctx context.Context, cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}
	b := &batch{pending: len(cmds), done: make(chan struct{})}

	s.qmu.Lock()
	for _, cmd := range cmds {
		s.queue = append(s.queue, queued{cmd: cmd, batch: b})
	}
	commandQueueDepth.Set(float64(len(s.queue)))
	if s.draining {
		s.qmu.Unlock()
		if draining(ctx, s) {
			return nil
		}
		select {
		case <-b.done:
			return errors.Join(b.errs...)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.draining = true
	s.drain(context.WithValue(ctx, drainKey{}, s))
	return errors.Join(b.errs...)
}

// Enqueue dispatches cmds from code running inside a drain, such as a
// subscriber reacting to a command. While a drain is in progress the commands
// are queued behind it and Enqueue returns nil without waiting; otherwise it
// behaves like Dispatch.
func (s *Store) Enqueue(ctx context.Context, cmds ...Command) error {
	return s.Dispatch(context.WithValue(ctx, drainKey{}, s), cmds...)
}

// drain applies queued commands until the queue is empty. It is called with
// qmu held and returns with it released.
func (s *Store) drain(ctx context.Context) {
	for len(s.queue) > 0 {
		q := s.queue[0]
		s.queue = s.queue[1:]
		commandQueueDepth.Set(float64(len(s.queue)))
		s.qmu.Unlock()

		err := q.cmd.apply(ctx, s)
		if err != nil {
			commandsTotal.WithLabelValues(q.cmd.Name(), "error").Inc()
			s.logger.Warn().Err(err).Str("command", q.cmd.Name()).Msg("Command failed")
			err = fmt.Errorf("%s: %w", q.cmd.Name(), err)
		} else {
			commandsTotal.WithLabelValues(q.cmd.Name(), "success").Inc()
		}

		s.qmu.Lock()
		q.batch.settle(err)
	}
	s.draining = false
	s.qmu.Unlock()
}

type drainKey struct{}

func draining(ctx context.Context, s *Store) bool {
	d, _ := ctx.Value(drainKey{}).(*Store)
	return d == s
}

// batch collects the outcome of one Dispatch call. Guarded by Store.qmu
// until done is closed.
type batch struct {
	pending int
	errs    []error
	done    chan struct{}
}

func (b *batch) settle(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.pending--
	if b.pending == 0 {
		close(b.done)
	}
}

type queued struct {
	cmd   Command
	batch *batch
}

// Entity returns the entity service for (t, id).
func (s *Store) Entity(t schema.EntityType, id string) *monitor.EntityService {
	return s.monitors.EntityService(t, id)
}

// List returns the pagination monitor of the selected page of (t, key).
func (s *Store) List(t schema.EntityType, key string) *monitor.PaginationMonitor {
	return s.monitors.Pagination(t, key)
}
