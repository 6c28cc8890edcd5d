package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a broker that uses Redis Pub/Sub channels. It's suitable for
// multi-process applications distributed across hosts that already share a
// Redis instance, e.g. as the substrate for a command bus.
//
// Like Postgres, Redis provides no durability - messages published while a
// topic has no subscriber are dropped.
type Redis struct {
	client    *redis.Client
	mu        sync.RWMutex
	listeners map[string]*redisTopicListener
	closed    bool
}

// redisTopicListener manages all subscriptions for a single channel.
type redisTopicListener struct {
	topic    string
	sub      *redis.PubSub
	handlers []rHandler
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

type rHandler struct {
	ctx    context.Context
	fn     func([]byte)
	cancel context.CancelFunc
}

// NewRedis creates a new Redis broker using the provided client. The client
// must remain open for the lifetime of the broker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:    client,
		listeners: make(map[string]*redisTopicListener),
	}
}

// Publish sends a message to all subscribers of the topic via PUBLISH.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	return r.client.Publish(ctx, topic, payload).Err()
}

// Subscribe registers a handler for the specified topic. It opens a dedicated
// Redis Pub/Sub connection for this topic if one doesn't already exist.
// Multiple handlers for the same topic share a single subscription.
func (r *Redis) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	h := rHandler{ctx: handlerCtx, fn: fn, cancel: cancel}

	tl, exists := r.listeners[topic]
	if !exists {
		var err error
		tl, err = r.createTopicListener(topic)
		if err != nil {
			cancel()
			return fmt.Errorf("pubsub: subscribe to %q: %w", topic, err)
		}
		r.listeners[topic] = tl
	}

	tl.mu.Lock()
	tl.handlers = append(tl.handlers, h)
	tl.mu.Unlock()

	go r.watchHandler(topic, h)

	return nil
}

func (r *Redis) createTopicListener(topic string) (*redisTopicListener, error) {
	sub := r.client.Subscribe(context.Background(), topic)

	// Confirm the subscription went through before returning.
	if _, err := sub.Receive(context.Background()); err != nil {
		sub.Close()
		return nil, err
	}

	listenerCtx, cancel := context.WithCancel(context.Background())

	tl := &redisTopicListener{
		topic:    topic,
		sub:      sub,
		handlers: []rHandler{},
		cancel:   cancel,
	}

	go tl.listen(listenerCtx)

	return tl, nil
}

func (tl *redisTopicListener) listen(ctx context.Context) {
	defer tl.sub.Close()

	ch := tl.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			tl.mu.RLock()
			handlers := make([]rHandler, len(tl.handlers))
			copy(handlers, tl.handlers)
			tl.mu.RUnlock()

			payload := []byte(msg.Payload)
			for _, h := range handlers {
				if h.ctx.Err() != nil {
					continue
				}
				go h.fn(payload)
			}
		}
	}
}

func (r *Redis) watchHandler(topic string, h rHandler) {
	<-h.ctx.Done()
	r.removeHandler(topic, h)
}

func (r *Redis) removeHandler(topic string, target rHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl, exists := r.listeners[topic]
	if !exists {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	for i, h := range tl.handlers {
		if h.ctx == target.ctx {
			tl.handlers = append(tl.handlers[:i], tl.handlers[i+1:]...)
			h.cancel()
			break
		}
	}

	if len(tl.handlers) == 0 {
		tl.cancel()
		delete(r.listeners, topic)
	}
}

// Close stops all listeners and releases subscriptions. It does not close
// the underlying *redis.Client, which the caller owns.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.closed = true

	for _, tl := range r.listeners {
		tl.cancel()
		tl.mu.Lock()
		for _, h := range tl.handlers {
			h.cancel()
		}
		tl.mu.Unlock()
	}

	r.listeners = make(map[string]*redisTopicListener)

	return nil
}
