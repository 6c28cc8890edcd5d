// Command mm is a market-maker instance: it announces itself to the
// supervisor and answers the generic instance commands until killed. The
// trading strategy it would otherwise run is outside this repository's
// scope.
package main

import (
	"context"
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
	"github.com/voltproto/tradecore/substrate"
)

type appConfig struct {
	Substrate           substrate.Config
	ControlChannel      string `default:"control"`
	ResponsesChannel    string `default:"responses"`
	PerRequestTimeoutMs int    `default:"300"`
	MaxRetries          int    `default:"3"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	id, _, err := instanceshell.ArgsInstanceID()
	if err != nil {
		logger.Fatal("read instance id", zap.Error(err))
	}

	var cfg appConfig
	if err := cfgx.Parse(&cfg, cfgx.Options{EnvPrefix: "MM", SkipFlags: true, Args: os.Args[2:]}); err != nil {
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

	base := instanceshell.Base{
		InstanceID: id,
		Kind:       protocol.KindMM,
		OnKill: func() {
			logger.Info("mm: killed, scheduling exit")
			time.AfterFunc(3*time.Second, func() { os.Exit(0) })
		},
	}

	dispatch := func(cmd protocol.Command) protocol.Response {
		if res, ok := base.Handle(cmd); ok {
			return res
		}
		return instanceshell.NotAccepted()
	}

	if err := instanceshell.Listen(ctx, broker, []string{cfg.ControlChannel, id}, cfg.ResponsesChannel, dispatch, logger); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	if err := instanceshell.Announce(ctx, client, cfg.ControlChannel, protocol.KindMM, id); err != nil {
		logger.Warn("announce", zap.Error(err))
	}

	logger.Info("mm running", zap.String("instance_id", id))
	<-ctx.Done()
	logger.Info("mm shutting down")
}
