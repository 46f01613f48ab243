// Package observable provides the push-based stream abstraction used by the
// store's monitors.
//
// Streams are multi-subscriber, optionally replay the last value to late
// subscribers and are released with an explicit Unsubscribe. Deliveries for a
// single Subject are serialized through a trampoline queue: a value pushed
// while another value is being delivered is appended and delivered by the
// goroutine already draining, so subscribers may push re-entrantly without
// deadlocking and never observe values out of order.
//
// # Basic Usage
//
//	subject := observable.NewReplay[int]()
//	sub := subject.Subscribe(func(v int) {
//		fmt.Println("got", v)
//	})
//	defer sub.Unsubscribe()
//
//	subject.Next(1)
//
// # Ref-counted sources
//
// RefCount connects to an upstream source on the first subscription and
// disconnects when the last subscriber leaves. Monitors are built this way:
//
//	obs := observable.RefCount(func(emit func(int)) func() {
//		inner := upstream.Subscribe(func(v int) { emit(v * 2) })
//		return inner.Unsubscribe
//	})
package observable

import (
	"sync"
	"sync/atomic"
)

// Observable is a stream of values of type T.
type Observable[T any] interface {
	// Subscribe registers fn for every future value and, for replaying
	// streams, the latest value.
	Subscribe(fn func(T)) *Subscription
}

// Func adapts a plain subscribe function to Observable.
type Func[T any] func(fn func(T)) *Subscription

// Subscribe implements Observable.
func (f Func[T]) Subscribe(fn func(T)) *Subscription {
	return f(fn)
}

// Subscription releases a subscriber.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so it runs at most once.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type subscriber[T any] struct {
	fn     func(T)
	seq    uint64
	active atomic.Bool
}

type delivery[T any] struct {
	value  T
	seq    uint64
	target *subscriber[T] // nil broadcasts
}

// Subject is an Observable that values are pushed into with Next.
type Subject[T any] struct {
	mu       sync.Mutex
	subs     []*subscriber[T]
	seq      uint64
	replay   bool
	value    T
	hasValue bool
	queue    []delivery[T]
	draining bool
}

// NewSubject returns a Subject that only delivers values pushed after
// subscription.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// NewReplay returns a Subject that replays its latest value to every new
// subscriber.
func NewReplay[T any]() *Subject[T] {
	return &Subject[T]{replay: true}
}

// Next pushes v to all current subscribers.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	s.seq++
	if s.replay {
		s.value = v
		s.hasValue = true
	}
	s.queue = append(s.queue, delivery[T]{value: v, seq: s.seq})
	s.drainLocked()
}

// Subscribe implements Observable.
func (s *Subject[T]) Subscribe(fn func(T)) *Subscription {
	s.mu.Lock()
	s.seq++
	sub := &subscriber[T]{fn: fn, seq: s.seq}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)

	if s.replay && s.hasValue {
		s.queue = append(s.queue, delivery[T]{value: s.value, seq: s.seq, target: sub})
		s.drainLocked()
	} else {
		s.mu.Unlock()
	}

	return NewSubscription(func() {
		sub.active.Store(false)
		s.mu.Lock()
		for i, other := range s.subs {
			if other == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	})
}

// Value returns the latest value of a replaying Subject.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.hasValue
}

// Subscribers returns the number of active subscribers.
func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// drainLocked must be called with s.mu held; it releases it.
func (s *Subject[T]) drainLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]

		var targets []*subscriber[T]
		if d.target != nil {
			targets = []*subscriber[T]{d.target}
		} else {
			for _, sub := range s.subs {
				// Subscribers registered after the value was pushed get it
				// through their own replay delivery instead.
				if sub.seq < d.seq {
					targets = append(targets, sub)
				}
			}
		}
		s.mu.Unlock()

		for _, sub := range targets {
			if sub.active.Load() {
				sub.fn(d.value)
			}
		}

		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}
