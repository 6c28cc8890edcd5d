// Package backtest implements a tick-replay pipeline: it resolves a
// configured data source and destination, applies a timing policy, and
// supports externally driven pause/resume/stop with early-exit predicates.
package backtest

import "github.com/voltproto/tradecore/tick"

// BacktestTypeKind distinguishes how tick emission is paced.
type BacktestTypeKind int

const (
	Fast BacktestTypeKind = iota
	Live
)

// BacktestType selects a timing policy. DelayMs is only meaningful for Fast.
type BacktestType struct {
	Kind    BacktestTypeKind
	DelayMs int64
}

func (bt BacktestType) toPolicy() tick.Policy {
	switch bt.Kind {
	case Live:
		return tick.LivePolicy()
	default:
		return tick.FastPolicy(bt.DelayMs)
	}
}

// DataSourceKind identifies where a backtest reads ticks from.
type DataSourceKind int

const (
	SourceFlatfile DataSourceKind = iota
	SourceRedisChannel
	SourcePostgres
	SourceRandom
)

// DataSource configures the tick producer. Host/Channel are only meaningful
// for SourceRedisChannel; Path is only meaningful for SourceFlatfile.
type DataSource struct {
	Kind    DataSourceKind
	Host    string
	Channel string
	Path    string
}

// DataDestKind identifies where a backtest's ticks are delivered.
type DataDestKind int

const (
	DestRedisChannel DataDestKind = iota
	DestConsole
	DestNull
	DestSimBroker
)

// DataDest configures the tick consumer. Host/Channel are only meaningful
// for DestRedisChannel; SimbrokerID is only meaningful for DestSimBroker.
type DataDest struct {
	Kind        DataDestKind
	Host        string
	Channel     string
	SimbrokerID string
}

// Definition is the full configuration for a single backtest run.
type Definition struct {
	StartTime      *int64         `json:"start_time,omitempty"`
	MaxTickN       *int64         `json:"max_tick_n,omitempty"`
	MaxTimestamp   *int64         `json:"max_timestamp,omitempty"`
	Symbol         string         `json:"symbol"`
	BacktestType   BacktestType   `json:"backtest_type"`
	DataSource     DataSource     `json:"data_source"`
	DataDest       DataDest       `json:"data_dest"`
	BrokerSettings string         `json:"broker_settings,omitempty"`
}

// checkEarlyExit reports whether t satisfies the definition's exit
// predicate, given count ticks emitted so far including t.
func checkEarlyExit(t tick.Tick, def Definition, count int64) bool {
	if def.MaxTickN != nil && count >= *def.MaxTickN {
		return true
	}
	if def.MaxTimestamp != nil && t.Timestamp >= *def.MaxTimestamp {
		return true
	}
	return false
}
