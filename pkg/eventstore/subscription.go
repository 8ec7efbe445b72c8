package eventstore

import (
	"context"
	"iter"
	"sync"

	"github.com/google/uuid"
)

// Subscription is one consumer's view of a Store. The queue channel is never
// closed; done signals detachment to both the consumer and a blocked Append.
type Subscription[E any] struct {
	ID string

	store *Store[E]
	ch    chan E
	done  chan struct{}
	once  sync.Once
}

func newSubscription[E any](s *Store[E], size int) *Subscription[E] {
	return &Subscription[E]{
		ID:    uuid.NewString(),
		store: s,
		ch:    make(chan E, size),
		done:  make(chan struct{}),
	}
}

// Next waits for the next event. It returns ErrClosed after Close and the
// context error if ctx ends first.
func (s *Subscription[E]) Next(ctx context.Context) (E, error) {
	var zero E
	if s.closed() {
		return zero, ErrClosed
	}
	select {
	case e := <-s.ch:
		return e, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// All yields events until ctx ends or the subscription is closed. Stopping
// the loop early closes the subscription.
func (s *Subscription[E]) All(ctx context.Context) iter.Seq[E] {
	return func(yield func(E) bool) {
		defer s.Close()
		for {
			e, err := s.Next(ctx)
			if err != nil || !yield(e) {
				return
			}
		}
	}
}

// C exposes the queue for select loops. Pair it with Done.
func (s *Subscription[E]) C() <-chan E { return s.ch }

func (s *Subscription[E]) Done() <-chan struct{} { return s.done }

// Close deregisters the subscription. It is idempotent and safe to call
// while an Append is waiting on this queue.
func (s *Subscription[E]) Close() {
	s.once.Do(func() {
		close(s.done)
		s.store.remove(s)
	})
}

func (s *Subscription[E]) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
