package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrTooManySubscribers = errors.New("bus: subscriber limit reached")
	ErrClosed             = errors.New("bus: subscription closed")
)

// Channel is a typed broadcast channel. Every subscriber has its own bounded
// queue and sees every value published after it subscribed, in publish order.
// A full queue loses its oldest unread value, so a stalled or abandoned
// subscriber never holds up the publisher.
type Channel[T any] struct {
	name        string
	capacity    int
	maxSubs     int
	lock        sync.Mutex
	subscribers map[*Subscription[T]]struct{}
}

type Subscription[T any] struct {
	parent *Channel[T]
	queue  chan T
	lagged uint64
	closed bool
}

// NewChannel creates a channel with the given per subscriber queue depth.
// maxSubscribers of 0 means unlimited.
func NewChannel[T any](name string, capacity, maxSubscribers int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		name:        name,
		capacity:    capacity,
		maxSubs:     maxSubscribers,
		subscribers: make(map[*Subscription[T]]struct{}),
	}
}

func (c *Channel[T]) Name() string {
	return c.name
}

func (c *Channel[T]) Subscribe() (*Subscription[T], error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.maxSubs > 0 && len(c.subscribers) >= c.maxSubs {
		return nil, ErrTooManySubscribers
	}
	s := &Subscription[T]{
		parent: c,
		queue:  make(chan T, c.capacity),
	}
	c.subscribers[s] = struct{}{}
	return s, nil
}

// MustSubscribe is for wiring at start up where running out of subscriber
// slots is a programming error.
func (c *Channel[T]) MustSubscribe() *Subscription[T] {
	s, err := c.Subscribe()
	if err != nil {
		panic(c.name + ": " + err.Error())
	}
	return s
}

// Publish delivers v to every current subscriber without blocking.
func (c *Channel[T]) Publish(v T) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for s := range c.subscribers {
		// Only publishers add to the queue and they are serialised by the
		// lock, so a failed send means the queue was full at that instant. A
		// reader may make room at any time, so only evict while it is still
		// full.
		for sent := false; !sent; {
			select {
			case s.queue <- v:
				sent = true
			default:
				if len(s.queue) == cap(s.queue) {
					select {
					case <-s.queue:
						s.lagged++
					default:
					}
				}
			}
		}
	}
}

func (c *Channel[T]) Subscribers() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.subscribers)
}

// C exposes the queue for use in select statements.
func (s *Subscription[T]) C() <-chan T {
	return s.queue
}

// Next waits for the next value.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.queue:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Lagged is the number of values this subscriber lost to a full queue.
func (s *Subscription[T]) Lagged() uint64 {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	return s.lagged
}

// Close removes the subscriber. Values still queued can be drained.
func (s *Subscription[T]) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.parent.subscribers, s)
	close(s.queue)
}
