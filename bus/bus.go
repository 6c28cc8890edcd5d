// Package bus implements a request/response protocol layered over a
// publish/subscribe substrate: correlated requests (Execute), broadcast
// response collection (Broadcast), and fire-and-forget publish (PublishRaw).
//
// The client multiplexes every inbound response over a single subscription
// to a configured responses channel and a shared correlation table. No lock
// is held while publishing to the substrate or while awaiting a response.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
)

// Errors returned by Execute/Broadcast.
var (
	// ErrTimeout is returned when no matching response arrives within the
	// configured window, after exhausting retries.
	ErrTimeout = errors.New("bus: timed out waiting for response")

	// ErrConnection is returned when publishing to the substrate fails
	// after exhausting retries. Distinct from ErrTimeout.
	ErrConnection = errors.New("bus: substrate connection failure")
)

// Config holds the per-process bus configuration shared by every module.
type Config struct {
	SubstrateAddress    string
	ControlChannel      string
	ResponsesChannel    string
	ConnectionPoolSize  int
	PerRequestTimeoutMs int
	MaxRetries          int
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.PerRequestTimeoutMs) * time.Millisecond
}

// waiter holds the single caller blocked on a correlation id via Execute.
type waiter struct {
	ch chan protocol.Response
}

// collector accumulates every response seen for a correlation id via
// Broadcast, preserving arrival order.
type collector struct {
	mu        sync.Mutex
	responses []protocol.Response
}

func (c *collector) add(res protocol.Response) {
	c.mu.Lock()
	c.responses = append(c.responses, res)
	c.mu.Unlock()
}

func (c *collector) snapshot() []protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Response, len(c.responses))
	copy(out, c.responses)
	return out
}

// Client is a command bus client atop a pubsub.Broker substrate.
type Client struct {
	broker pubsub.Broker
	cfg    Config
	log    *zap.Logger

	mu         sync.Mutex
	waiters    map[string]*waiter
	collectors map[string]*collector

	subOnce sync.Once
	subErr  error
}

// New constructs a Client. log may be nil, in which case a no-op logger is
// used.
func New(broker pubsub.Broker, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		broker:     broker,
		cfg:        cfg,
		log:        log,
		waiters:    make(map[string]*waiter),
		collectors: make(map[string]*collector),
	}
}

// ensureSubscribed lazily subscribes once to the responses channel, fanning
// every inbound wrapped response out to its waiter or collector.
func (c *Client) ensureSubscribed(ctx context.Context) error {
	c.subOnce.Do(func() {
		c.subErr = c.broker.Subscribe(ctx, c.cfg.ResponsesChannel, c.handleInbound)
	})
	return c.subErr
}

func (c *Client) handleInbound(payload []byte) {
	wrapped, err := protocol.DecodeWrappedResponse(string(payload))
	if err != nil {
		c.log.Warn("bus: dropping unparseable response", zap.Error(err))
		return
	}

	id := wrapped.CorrelationID.String()

	c.mu.Lock()
	w, hasWaiter := c.waiters[id]
	col, hasCollector := c.collectors[id]
	c.mu.Unlock()

	if hasWaiter {
		select {
		case w.ch <- wrapped.Res:
		default:
		}
	}
	if hasCollector {
		col.add(wrapped.Res)
	}
}

// PublishRaw publishes cmd on targetChannel with no correlation tracking and
// no wait for a reply.
func (c *Client) PublishRaw(ctx context.Context, cmd protocol.Command, targetChannel string) error {
	wrapped := protocol.Wrap(cmd)
	encoded, err := protocol.EncodeWrappedCommand(wrapped)
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, targetChannel, []byte(encoded))
}

// Execute wraps cmd with a fresh correlation id, publishes it on
// targetChannel, and waits for the first matching response. On timeout it
// republishes the same wrapped command (same correlation id) up to
// MaxRetries times before giving up with ErrTimeout. Dropping ctx (its
// cancellation) releases the waiter slot immediately.
func (c *Client) Execute(ctx context.Context, cmd protocol.Command, targetChannel string) (protocol.Response, error) {
	if err := c.ensureSubscribed(ctx); err != nil {
		return nil, err
	}

	wrapped := protocol.Wrap(cmd)
	encoded, err := protocol.EncodeWrappedCommand(wrapped)
	if err != nil {
		return nil, err
	}

	id := wrapped.CorrelationID.String()
	w := &waiter{ch: make(chan protocol.Response, 1)}

	c.mu.Lock()
	c.waiters[id] = w
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	attempts := c.cfg.MaxRetries + 1
	timeout := c.cfg.timeout()
	lastPublishFailed := false

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.broker.Publish(ctx, targetChannel, []byte(encoded)); err != nil {
			c.log.Warn("bus: publish failed", zap.String("channel", targetChannel), zap.Error(err))
			lastPublishFailed = true
			continue
		}
		lastPublishFailed = false

		select {
		case res := <-w.ch:
			return res, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			continue
		}
	}

	if lastPublishFailed {
		return nil, ErrConnection
	}
	return nil, ErrTimeout
}

// Broadcast wraps cmd with a fresh correlation id, publishes it on
// broadcastChannel, and collects every matching response that arrives before
// PerRequestTimeoutMs elapses from the moment of publish. The result may be
// empty; duplicate responses from the same responder are preserved in
// arrival order.
func (c *Client) Broadcast(ctx context.Context, cmd protocol.Command, broadcastChannel string) ([]protocol.Response, error) {
	if err := c.ensureSubscribed(ctx); err != nil {
		return nil, err
	}

	wrapped := protocol.Wrap(cmd)
	encoded, err := protocol.EncodeWrappedCommand(wrapped)
	if err != nil {
		return nil, err
	}

	id := wrapped.CorrelationID.String()
	col := &collector{}

	c.mu.Lock()
	c.collectors[id] = col
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.collectors, id)
		c.mu.Unlock()
	}()

	var lastErr error
	published := false
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.broker.Publish(ctx, broadcastChannel, []byte(encoded)); err != nil {
			lastErr = err
			continue
		}
		published = true
		break
	}
	if !published {
		c.log.Warn("bus: broadcast publish failed after retries", zap.String("channel", broadcastChannel), zap.Error(lastErr))
		return nil, ErrConnection
	}

	select {
	case <-ctx.Done():
		return col.snapshot(), ctx.Err()
	case <-time.After(c.cfg.timeout()):
		return col.snapshot(), nil
	}
}

// Close releases the underlying subscription.
func (c *Client) Close() error {
	return c.broker.Close()
}
