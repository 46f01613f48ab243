// Package monitor provides read-only views projected from the canonical
// store, the request tracker and the pagination controller.
//
// Every monitor value is recomputed from the current truth whenever one of
// its inputs changes, so it never carries its own copy of entity data.
// Monitors connect to their inputs on the first subscription and disconnect
// when the last subscriber leaves; late subscribers receive the latest value.
//
// Example usage:
//
//	factory := monitor.NewFactory(entities, tracker, controller, fetcher, registry)
//	sub := factory.Pagination(schema.Application, key).Observe().Subscribe(func(v monitor.PaginationValue) {
//		render(v.Rows)
//	})
//	defer sub.Unsubscribe()
package monitor

import (
	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for monitors.
var (
	monitorsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_monitors_connected",
		Help: "Number of monitors with at least one subscriber",
	}, []string{"kind"})

	monitorEmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_monitor_emissions_total",
		Help: "Total number of recomputed monitor values",
	}, []string{"kind"})
)

// trigger subscribes fire to one input of a monitor.
type trigger func(fire func()) *observable.Subscription

// derive builds a ref-counted stream of compute(). Every input change
// enqueues a recompute on a private subject; the subject's trampoline
// serializes them, so the last value emitted always reflects the last
// change.
func derive[T any](kind string, compute func() T, onIdle func(), triggers ...trigger) observable.Observable[T] {
	return observable.RefCount(func(emit func(T)) func() {
		tick := observable.NewSubject[struct{}]()
		tickSub := tick.Subscribe(func(struct{}) {
			monitorEmissions.WithLabelValues(kind).Inc()
			emit(compute())
		})

		subs := make([]*observable.Subscription, 0, len(triggers))
		for _, tr := range triggers {
			subs = append(subs, tr(func() { tick.Next(struct{}{}) }))
		}
		tick.Next(struct{}{})
		monitorsConnected.WithLabelValues(kind).Inc()

		return func() {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
			tickSub.Unsubscribe()
			monitorsConnected.WithLabelValues(kind).Dec()
			if onIdle != nil {
				onIdle()
			}
		}
	})
}

func onEntityChange(store *entity.Store, t schema.EntityType, match func(id string) bool) trigger {
	return func(fire func()) *observable.Subscription {
		return store.Changes().Subscribe(func(c entity.Change) {
			if c.EntityType == t && match(c.ID) {
				fire()
			}
		})
	}
}

func onRequestChange(tracker *request.Tracker, match func(fp request.Fingerprint) bool) trigger {
	return func(fire func()) *observable.Subscription {
		return tracker.Changes().Subscribe(func(c request.StateChange) {
			if match(c.Fingerprint) {
				fire()
			}
		})
	}
}

func onSectionChange(ctrl *pagination.Controller, k pagination.SectionKey) trigger {
	return func(fire func()) *observable.Subscription {
		return ctrl.Changes().Subscribe(func(changed pagination.SectionKey) {
			if changed == k {
				fire()
			}
		})
	}
}
