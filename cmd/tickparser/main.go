// Command tickparser ingests a live tick stream for a single symbol and
// maintains a configurable set of time-weighted moving averages over it,
// publishing each one's synthetic tick back out as it updates. AddSMA and
// RemoveSMA mutate the tracked set at runtime.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/cfgx"
	"github.com/voltproto/tradecore/instanceshell"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
	"github.com/voltproto/tradecore/sma"
	"github.com/voltproto/tradecore/substrate"
	"github.com/voltproto/tradecore/tick"
)

type appConfig struct {
	Substrate           substrate.Config
	ControlChannel      string `default:"control"`
	ResponsesChannel    string `default:"responses"`
	PerRequestTimeoutMs int    `default:"300"`
	MaxRetries          int    `default:"3"`
	InputChannelPrefix  string `default:"ticks" desc:"input tick channel is '<prefix>:<symbol>'"`
	OutputChannelPrefix string `default:"sma" desc:"output channel is '<prefix>:<symbol>:<period>'"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	id, extra, err := instanceshell.ArgsInstanceID()
	if err != nil {
		logger.Fatal("read instance id", zap.Error(err))
	}
	if len(extra) == 0 {
		logger.Fatal("tickparser requires a symbol as its second argument")
	}
	symbol := extra[0]

	var cfg appConfig
	if err := cfgx.Parse(&cfg, cfgx.Options{EnvPrefix: "TICKPARSER", SkipFlags: true, Args: os.Args[3:]}); err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := substrate.Open(ctx, cfg.Substrate)
	if err != nil {
		logger.Fatal("open substrate", zap.Error(err))
	}
	defer broker.Close()

	busCfg := bus.Config{
		ControlChannel:      cfg.ControlChannel,
		ResponsesChannel:    cfg.ResponsesChannel,
		PerRequestTimeoutMs: cfg.PerRequestTimeoutMs,
		MaxRetries:          cfg.MaxRetries,
	}
	client := bus.New(broker, busCfg, logger)

	list := sma.NewList(logger)

	base := instanceshell.Base{
		InstanceID: id,
		Kind:       protocol.KindTickParser,
		OnKill: func() {
			logger.Info("tickparser: killed, scheduling exit")
			time.AfterFunc(3*time.Second, func() { os.Exit(0) })
		},
	}

	dispatch := func(cmd protocol.Command) protocol.Response {
		if res, ok := base.Handle(cmd); ok {
			return res
		}
		switch c := cmd.(type) {
		case protocol.AddSMA:
			list.Add(int64(c.Period))
			return protocol.Ok{}
		case protocol.RemoveSMA:
			list.Remove(int64(c.Period))
			return protocol.Ok{}
		default:
			return instanceshell.NotAccepted()
		}
	}

	if err := instanceshell.Listen(ctx, broker, []string{cfg.ControlChannel, id}, cfg.ResponsesChannel, dispatch, logger); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	if err := instanceshell.Announce(ctx, client, cfg.ControlChannel, protocol.KindTickParser, id); err != nil {
		logger.Warn("announce", zap.Error(err))
	}

	inputChannel := fmt.Sprintf("%s:%s", cfg.InputChannelPrefix, symbol)
	control := make(chan tick.ControlEvent, 1)
	source := tick.NewRedisSource(broker, inputChannel)
	stream, err := source.Open(ctx, tick.LivePolicy(), control)
	if err != nil {
		logger.Fatal("open tick source", zap.Error(err))
	}
	control <- tick.ControlEvent{Kind: tick.Resume}

	go pump(ctx, broker, cfg, symbol, list, stream, logger)

	logger.Info("tickparser running", zap.String("instance_id", id), zap.String("symbol", symbol))
	<-ctx.Done()
	logger.Info("tickparser shutting down")
}

func pump(ctx context.Context, broker pubsub.Broker, cfg appConfig, symbol string, list *sma.List, stream <-chan tick.Tick, logger *zap.Logger) {
	sinks := make(map[int64]*tick.RedisSink)

	for {
		select {
		case t, ok := <-stream:
			if !ok {
				return
			}
			for period, out := range list.PushAllTick(t) {
				sink, ok := sinks[period]
				if !ok {
					channel := fmt.Sprintf("%s:%s:%d", cfg.OutputChannelPrefix, symbol, period)
					sink = tick.NewRedisSink(broker, channel)
					sinks[period] = sink
				}
				if err := sink.Deliver(ctx, out); err != nil {
					logger.Warn("tickparser: publish sma tick failed", zap.Int64("period", period), zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
