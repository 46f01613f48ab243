package observable

import (
	"context"
	"sync"
)

// RefCount returns a replaying Observable that calls connect when the first
// subscriber arrives and the returned disconnect when the last one leaves.
// A later subscriber reconnects with a fresh replay buffer.
func RefCount[T any](connect func(emit func(T)) (disconnect func())) Observable[T] {
	return &refCounted[T]{connect: connect}
}

type refCounted[T any] struct {
	connect func(emit func(T)) func()

	mu         sync.Mutex
	count      int
	generation uint64
	subject    *Subject[T]
	disconnect func()
}

func (r *refCounted[T]) Subscribe(fn func(T)) *Subscription {
	r.mu.Lock()
	r.count++
	first := r.count == 1
	if first {
		r.generation++
		r.subject = NewReplay[T]()
	}
	subject := r.subject
	generation := r.generation
	r.mu.Unlock()

	if first {
		disconnect := r.connect(subject.Next)
		r.mu.Lock()
		if r.generation == generation && r.count > 0 {
			r.disconnect = disconnect
			disconnect = nil
		}
		r.mu.Unlock()
		// Everyone left while connecting.
		if disconnect != nil {
			disconnect()
		}
	}

	inner := subject.Subscribe(fn)

	return NewSubscription(func() {
		inner.Unsubscribe()

		r.mu.Lock()
		r.count--
		var disconnect func()
		if r.count == 0 {
			disconnect = r.disconnect
			r.disconnect = nil
			r.subject = nil
		}
		r.mu.Unlock()

		if disconnect != nil {
			disconnect()
		}
	})
}

// Map transforms every value of src.
func Map[T, U any](src Observable[T], fn func(T) U) Observable[U] {
	return Func[U](func(next func(U)) *Subscription {
		return src.Subscribe(func(v T) { next(fn(v)) })
	})
}

// Filter drops values for which keep returns false.
func Filter[T any](src Observable[T], keep func(T) bool) Observable[T] {
	return Func[T](func(next func(T)) *Subscription {
		return src.Subscribe(func(v T) {
			if keep(v) {
				next(v)
			}
		})
	})
}

// First blocks until src emits a value accepted by keep, or ctx is done.
func First[T any](ctx context.Context, src Observable[T], keep func(T) bool) (T, error) {
	found := make(chan T, 1)
	sub := src.Subscribe(func(v T) {
		if keep != nil && !keep(v) {
			return
		}
		select {
		case found <- v:
		default:
		}
	})
	defer sub.Unsubscribe()

	select {
	case v := <-found:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
