package broadcast

import (
	"context"
	"sync"
)

// Publisher publishes values of type T to all current subscribers.
type Publisher[T any] interface {
	// Publish delivers v to every active subscriber without blocking.
	// Subscribers whose buffers are full miss the value.
	Publish(ctx context.Context, v T)
}

// Subscription receives published values until closed.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close ends the subscription and closes the receive channel. Safe to call
// more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// Bus is an in-memory Publisher with channel-backed subscriptions.
// All methods are safe for concurrent use.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	bufSize int
	closed  bool
}

// NewBus creates a Bus whose subscribers each buffer up to bufSize values.
// A minimum buffer of 1 is enforced so Publish stays non-blocking.
func NewBus[T any](bufSize int) *Bus[T] {
	return &Bus[T]{
		subs:    make(map[*Subscription[T]]struct{}),
		bufSize: max(bufSize, 1),
	}
}

// Subscribe registers a new subscription. It is automatically closed when
// ctx is cancelled. Subscribing to a closed bus yields an already-closed
// subscription.
func (b *Bus[T]) Subscribe(ctx context.Context) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{ch: make(chan T, b.bufSize)}

	if b.closed {
		sub.cancel = func() {}
		sub.Close()
		return sub
	}
	sub.cancel = func() { b.remove(sub) }
	b.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub
}

// Publish delivers v to every active subscriber, dropping it for any whose
// buffer is full.
func (b *Bus[T]) Publish(ctx context.Context, v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriptions. Idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription[T], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	clear(b.subs)
	b.mu.Unlock()

	// Close outside the bus lock: Subscription.Close calls back into remove.
	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Bus[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}
