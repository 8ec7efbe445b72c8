// Package eventstore keeps a bounded history of events and fans every new
// event out to subscribers through bounded queues. A full queue blocks the
// producer: slow subscribers apply backpressure instead of losing events.
package eventstore

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	ErrInvalidCapacity = errors.New("eventstore: capacity must be positive")
	ErrClosed          = errors.New("eventstore: subscription closed")
)

// Observer receives store activity, typically for metrics.
type Observer interface {
	EventAppended()
	AppendBlocked()
	SubscriberAdded()
	SubscriberRemoved()
}

type nopObserver struct{}

func (nopObserver) EventAppended()     {}
func (nopObserver) AppendBlocked()     {}
func (nopObserver) SubscriberAdded()   {}
func (nopObserver) SubscriberRemoved() {}

type Option func(*options)

type options struct {
	observer Observer
}

func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// Store is safe for concurrent use. The mutex covers only the history and
// the subscriber list; blocking sends happen after it is released.
type Store[E any] struct {
	mu        sync.Mutex
	history   *ring[E]
	subs      []*Subscription[E] // registration order
	queueSize int
	obs       Observer
}

func New[E any](maxLen, queueSize int, opts ...Option) (*Store[E], error) {
	if maxLen <= 0 || queueSize <= 0 {
		return nil, ErrInvalidCapacity
	}
	o := options{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[E]{
		history:   newRing[E](maxLen),
		queueSize: queueSize,
		obs:       o.observer,
	}, nil
}

// Append records e and pushes it to every subscriber registered at this
// moment, one at a time, waiting whenever a subscriber's queue is full.
// A subscriber that detaches while Append waits on it is skipped. If ctx
// ends first, Append returns its error and the remaining subscribers miss e.
func (s *Store[E]) Append(ctx context.Context, e E) error {
	return s.AppendBatch(ctx, e)
}

// AppendBatch records every event in history under one lock, then pushes
// them in order to the subscribers registered at that moment. History never
// holds part of a batch.
func (s *Store[E]) AppendBatch(ctx context.Context, es ...E) error {
	if len(es) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, e := range es {
		s.history.push(e)
	}
	subs := slices.Clone(s.subs)
	s.mu.Unlock()
	for range es {
		s.obs.EventAppended()
	}

	for _, e := range es {
		for _, sub := range subs {
			if err := s.send(ctx, sub, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store[E]) send(ctx context.Context, sub *Subscription[E], e E) error {
	if sub.closed() {
		return nil
	}
	select {
	case sub.ch <- e:
		return nil
	default:
	}
	s.obs.AppendBlocked()
	select {
	case sub.ch <- e:
	case <-sub.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Tail returns the newest n events, oldest first.
func (s *Store[E]) Tail(n int) []E {
	if n <= 0 {
		return []E{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.last(n)
}

// Subscribe registers a new bounded queue. Only events appended after this
// call are delivered to it.
func (s *Store[E]) Subscribe() *Subscription[E] {
	sub := newSubscription(s, s.queueSize)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	s.obs.SubscriberAdded()
	return sub
}

func (s *Store[E]) remove(sub *Subscription[E]) {
	s.mu.Lock()
	s.subs = slices.DeleteFunc(s.subs, func(x *Subscription[E]) bool { return x == sub })
	s.mu.Unlock()
	s.obs.SubscriberRemoved()
}

// Len is the number of events currently held in history.
func (s *Store[E]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.len()
}

func (s *Store[E]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
