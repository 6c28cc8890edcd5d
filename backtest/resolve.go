package backtest

import (
	"fmt"

	"github.com/voltproto/tradecore/tick"
)

func (e *Engine) resolveSource(def Definition) (tick.Source, error) {
	switch def.DataSource.Kind {
	case SourceFlatfile:
		path := def.DataSource.Path
		if path == "" {
			path = def.Symbol + ".csv"
		}
		return tick.NewFlatfileSource(path), nil

	case SourceRedisChannel:
		if e.broker == nil {
			return nil, fmt.Errorf("backtest: RedisChannel source requires a configured substrate broker")
		}
		return tick.NewRedisSource(e.broker, def.DataSource.Channel), nil

	case SourcePostgres:
		if e.store == nil {
			return nil, fmt.Errorf("backtest: Postgres source requires a configured store")
		}
		return tick.NewPostgresSource(e.store, def.Symbol), nil

	case SourceRandom:
		return tick.NewRandomSource(def.Symbol, int64(len(def.Symbol)+1)), nil

	default:
		return nil, fmt.Errorf("backtest: unknown data source kind %v", def.DataSource.Kind)
	}
}

func (e *Engine) resolveSink(def Definition) (tick.Sink, error) {
	switch def.DataDest.Kind {
	case DestRedisChannel:
		if e.broker == nil {
			return nil, fmt.Errorf("backtest: RedisChannel destination requires a configured substrate broker")
		}
		return tick.NewRedisSink(e.broker, def.DataDest.Channel), nil

	case DestConsole:
		return tick.NewConsoleSink(), nil

	case DestNull:
		return tick.NewNullSink(), nil

	default:
		return nil, fmt.Errorf("backtest: unknown data dest kind %v", def.DataDest.Kind)
	}
}
