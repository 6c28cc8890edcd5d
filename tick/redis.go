package tick

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voltproto/tradecore/pubsub"
)

// wireTick is the JSON record shape used on a RedisChannel source or sink.
type wireTick struct {
	Bid       int64 `json:"bid"`
	Ask       int64 `json:"ask"`
	Timestamp int64 `json:"timestamp"`
}

// RedisSource subscribes to a channel on a pubsub.Broker (normally
// pubsub.Redis) and replays each message received as a Tick until Stop
// arrives or ctx is canceled. Messages that do not decode, or that arrive
// while 64 ticks are already buffered, are dropped.
type RedisSource struct {
	Broker  pubsub.Broker
	Channel string
}

func NewRedisSource(broker pubsub.Broker, channel string) *RedisSource {
	return &RedisSource{Broker: broker, Channel: channel}
}

func (s *RedisSource) Open(ctx context.Context, policy Policy, control <-chan ControlEvent) (<-chan Tick, error) {
	received := make(chan Tick, 64)

	err := s.Broker.Subscribe(ctx, s.Channel, func(payload []byte) {
		var w wireTick
		if err := json.Unmarshal(payload, &w); err != nil {
			return
		}
		select {
		case received <- Tick{Bid: w.Bid, Ask: w.Ask, Timestamp: w.Timestamp}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("tick: subscribe redis channel %q: %w", s.Channel, err)
	}

	next := func() (Tick, bool, error) {
		t, ok := <-received
		if !ok {
			return Tick{}, false, nil
		}
		return t, true, nil
	}

	return drive(ctx, policy, control, next), nil
}

// RedisSink publishes each delivered tick as a JSON record on a channel of a
// pubsub.Broker.
type RedisSink struct {
	Broker  pubsub.Broker
	Channel string
}

func NewRedisSink(broker pubsub.Broker, channel string) *RedisSink {
	return &RedisSink{Broker: broker, Channel: channel}
}

func (s *RedisSink) Deliver(ctx context.Context, t Tick) error {
	payload, err := json.Marshal(wireTick{Bid: t.Bid, Ask: t.Ask, Timestamp: t.Timestamp})
	if err != nil {
		return err
	}
	return s.Broker.Publish(ctx, s.Channel, payload)
}
