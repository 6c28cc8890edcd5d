// Command supervisor is the platform's instance manager: it bootstraps the
// baseline module set, answers spawn/census/kill commands, and heals any
// instance its heartbeat finds missing.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/cfgx"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/substrate"
	"github.com/voltproto/tradecore/supervisor"
)

type appConfig struct {
	InstanceID string `desc:"this supervisor's instance id; a fresh uuid is minted if empty"`

	Substrate substrate.Config

	ControlChannel      string `default:"control" desc:"channel every instance listens on for broadcast commands"`
	ResponsesChannel    string `default:"responses" desc:"channel every response is published to"`
	PerRequestTimeoutMs int    `default:"300" desc:"how long Execute/Broadcast wait per attempt"`
	MaxRetries          int    `default:"3" desc:"how many times to republish an unanswered command"`

	KillStragglers bool `default:"true" desc:"kill any instance found alive at bootstrap that this supervisor didn't spawn"`

	DistPath             string `default:"./dist" desc:"directory module executables live in"`
	MMBinary             string `default:"mm" desc:"market-maker executable name"`
	OptimizerBinary      string `default:"optimizer" desc:"optimizer executable name"`
	TickParserBinary     string `default:"tickparser" desc:"tick-parser executable name"`
	BacktesterBinary     string `default:"backtester" desc:"backtester executable name"`
	FxcmDDBinary         string `default:"fxcmdownloader" desc:"FXCM data-downloader executable name"`
	HeartbeatIntervalMs  int    `default:"350" desc:"how often to sweep for missing instances"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	var cfg appConfig
	if err := cfgx.Parse(&cfg, cfgx.Options{EnvPrefix: "SUPERVISOR"}); err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	id := cfg.InstanceID
	if id == "" {
		id = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := substrate.Open(ctx, cfg.Substrate)
	if err != nil {
		logger.Fatal("open substrate", zap.Error(err))
	}
	defer broker.Close()

	busCfg := bus.Config{
		SubstrateAddress:    cfg.Substrate.Address,
		ControlChannel:      cfg.ControlChannel,
		ResponsesChannel:    cfg.ResponsesChannel,
		PerRequestTimeoutMs: cfg.PerRequestTimeoutMs,
		MaxRetries:          cfg.MaxRetries,
	}
	client := bus.New(broker, busCfg, logger)

	supCfg := supervisor.Config{
		Config:         busCfg,
		KillStragglers: cfg.KillStragglers,
		DistPath:       cfg.DistPath,
		NodeBinaryPath: map[protocol.ModuleKind]string{
			protocol.KindMM:         cfg.MMBinary,
			protocol.KindOptimizer:  cfg.OptimizerBinary,
			protocol.KindTickParser: cfg.TickParserBinary,
			protocol.KindBacktester: cfg.BacktesterBinary,
			protocol.KindFxcmDD:     cfg.FxcmDDBinary,
		},
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
	}

	sup := supervisor.New(id, client, broker, supCfg, logger)

	if err := sup.Listen(ctx); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	if err := sup.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}

	go sup.Heartbeat(ctx)

	logger.Info("supervisor running", zap.String("instance_id", id))
	<-ctx.Done()
	logger.Info("supervisor shutting down")
}
