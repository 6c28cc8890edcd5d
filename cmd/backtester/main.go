// Command backtester hosts the backtest engine and the simbroker registry
// behind a bus responder: StartBacktest/PauseBacktest/ResumeBacktest/
// StopBacktest/ListBacktests drive backtest.Engine, and SpawnSimbroker/
// ListSimbrokers manage the in-process simulated-broker registry.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltproto/tradecore/backtest"
	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/cfgx"
	"github.com/voltproto/tradecore/instanceshell"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/simbroker"
	"github.com/voltproto/tradecore/substrate"
	"github.com/voltproto/tradecore/tick"
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
	if err := cfgx.Parse(&cfg, cfgx.Options{EnvPrefix: "BACKTESTER", SkipFlags: true, Args: os.Args[2:]}); err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := substrate.Open(ctx, cfg.Substrate)
	if err != nil {
		logger.Fatal("open substrate", zap.Error(err))
	}
	defer broker.Close()

	store, err := substrate.OpenStore(ctx, cfg.Substrate)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	busCfg := bus.Config{
		ControlChannel:      cfg.ControlChannel,
		ResponsesChannel:    cfg.ResponsesChannel,
		PerRequestTimeoutMs: cfg.PerRequestTimeoutMs,
		MaxRetries:          cfg.MaxRetries,
	}
	client := bus.New(broker, busCfg, logger)

	simbrokers := simbroker.NewRegistry()
	engine := backtest.New(simbrokers, broker, store, logger)

	base := instanceshell.Base{
		InstanceID: id,
		Kind:       protocol.KindBacktester,
		OnKill: func() {
			logger.Info("backtester: killed, scheduling exit")
			time.AfterFunc(3*time.Second, func() { os.Exit(0) })
		},
	}

	dispatch := func(cmd protocol.Command) protocol.Response {
		if res, ok := base.Handle(cmd); ok {
			return res
		}
		return dispatchBacktest(ctx, engine, simbrokers, cmd)
	}

	if err := instanceshell.Listen(ctx, broker, []string{cfg.ControlChannel, id}, cfg.ResponsesChannel, dispatch, logger); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	if err := instanceshell.Announce(ctx, client, cfg.ControlChannel, protocol.KindBacktester, id); err != nil {
		logger.Warn("announce", zap.Error(err))
	}

	logger.Info("backtester running", zap.String("instance_id", id))
	<-ctx.Done()
	logger.Info("backtester shutting down")
}

func dispatchBacktest(ctx context.Context, engine *backtest.Engine, simbrokers *simbroker.Registry, cmd protocol.Command) protocol.Response {
	switch c := cmd.(type) {
	case protocol.StartBacktest:
		var def backtest.Definition
		if err := json.Unmarshal([]byte(c.Definition), &def); err != nil {
			return protocol.NewError("malformed backtest definition: %v", err)
		}
		id, err := engine.Start(ctx, def)
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id.String()}

	case protocol.PauseBacktest:
		return sendControl(engine, c.ID, tick.Pause)

	case protocol.ResumeBacktest:
		return sendControl(engine, c.ID, tick.Resume)

	case protocol.StopBacktest:
		return sendControl(engine, c.ID, tick.Stop)

	case protocol.ListBacktests:
		views := engine.List()
		out, err := json.Marshal(views)
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: string(out)}

	case protocol.SpawnSimbroker:
		id := simbrokers.Create(c.Settings)
		return protocol.Info{Info: id.String()}

	case protocol.ListSimbrokers:
		out, err := json.Marshal(simbrokers.ListIDs())
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: string(out)}

	default:
		return instanceshell.NotAccepted()
	}
}

func sendControl(engine *backtest.Engine, rawID string, kind tick.ControlEventKind) protocol.Response {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return protocol.NewError("malformed backtest id: %v", err)
	}
	if err := engine.Send(id, tick.ControlEvent{Kind: kind}); err != nil {
		return protocol.NewError("%v", err)
	}
	return protocol.Ok{}
}
