package backtest

import (
	"fmt"

	"github.com/voltproto/tradecore/protocol"
)

// BacktestType, DataSource, and DataDest encode as tagged-union variants on
// the wire, the same convention protocol's Command/Response types use:
// {"Fast":{"delay_ms":100}}, bare "Live", {"RedisChannel":{"channel":"..."}},
// and so on. A Definition embedding these marshals/unmarshals through
// encoding/json automatically via these MarshalJSON/UnmarshalJSON methods.

type fastFields struct {
	DelayMs int64 `json:"delay_ms"`
}

func (bt BacktestType) MarshalJSON() ([]byte, error) {
	switch bt.Kind {
	case Live:
		s, err := protocol.EncodeTagged("Live", struct{}{})
		return []byte(s), err
	default:
		s, err := protocol.EncodeTagged("Fast", fastFields{DelayMs: bt.DelayMs})
		return []byte(s), err
	}
}

func (bt *BacktestType) UnmarshalJSON(data []byte) error {
	tag, fields, err := protocol.SplitTagged(string(data))
	if err != nil {
		return fmt.Errorf("backtest: decode BacktestType: %w", err)
	}
	switch tag {
	case "Fast":
		var f fastFields
		if err := protocol.DecodeStrict(fields, &f); err != nil {
			return fmt.Errorf("backtest: decode Fast: %w", err)
		}
		bt.Kind = Fast
		bt.DelayMs = f.DelayMs
	case "Live":
		bt.Kind = Live
		bt.DelayMs = 0
	default:
		return fmt.Errorf("backtest: unknown BacktestType variant %q", tag)
	}
	return nil
}

type flatfileFields struct {
	Path string `json:"path,omitempty"`
}

type redisChannelFields struct {
	Host    string `json:"host,omitempty"`
	Channel string `json:"channel"`
}

func (ds DataSource) MarshalJSON() ([]byte, error) {
	switch ds.Kind {
	case SourceFlatfile:
		s, err := protocol.EncodeTagged("Flatfile", flatfileFields{Path: ds.Path})
		return []byte(s), err
	case SourceRedisChannel:
		s, err := protocol.EncodeTagged("RedisChannel", redisChannelFields{Host: ds.Host, Channel: ds.Channel})
		return []byte(s), err
	case SourcePostgres:
		s, err := protocol.EncodeTagged("Postgres", struct{}{})
		return []byte(s), err
	case SourceRandom:
		s, err := protocol.EncodeTagged("Random", struct{}{})
		return []byte(s), err
	default:
		return nil, fmt.Errorf("backtest: unknown DataSourceKind %v", ds.Kind)
	}
}

func (ds *DataSource) UnmarshalJSON(data []byte) error {
	tag, fields, err := protocol.SplitTagged(string(data))
	if err != nil {
		return fmt.Errorf("backtest: decode DataSource: %w", err)
	}
	switch tag {
	case "Flatfile":
		var f flatfileFields
		if err := protocol.DecodeStrict(fields, &f); err != nil {
			return fmt.Errorf("backtest: decode Flatfile: %w", err)
		}
		*ds = DataSource{Kind: SourceFlatfile, Path: f.Path}
	case "RedisChannel":
		var f redisChannelFields
		if err := protocol.DecodeStrict(fields, &f); err != nil {
			return fmt.Errorf("backtest: decode RedisChannel: %w", err)
		}
		*ds = DataSource{Kind: SourceRedisChannel, Host: f.Host, Channel: f.Channel}
	case "Postgres":
		*ds = DataSource{Kind: SourcePostgres}
	case "Random":
		*ds = DataSource{Kind: SourceRandom}
	default:
		return fmt.Errorf("backtest: unknown DataSource variant %q", tag)
	}
	return nil
}

type simbrokerFields struct {
	SimbrokerID string `json:"simbroker_id"`
}

func (dd DataDest) MarshalJSON() ([]byte, error) {
	switch dd.Kind {
	case DestRedisChannel:
		s, err := protocol.EncodeTagged("RedisChannel", redisChannelFields{Host: dd.Host, Channel: dd.Channel})
		return []byte(s), err
	case DestConsole:
		s, err := protocol.EncodeTagged("Console", struct{}{})
		return []byte(s), err
	case DestNull:
		s, err := protocol.EncodeTagged("Null", struct{}{})
		return []byte(s), err
	case DestSimBroker:
		s, err := protocol.EncodeTagged("SimBroker", simbrokerFields{SimbrokerID: dd.SimbrokerID})
		return []byte(s), err
	default:
		return nil, fmt.Errorf("backtest: unknown DataDestKind %v", dd.Kind)
	}
}

func (dd *DataDest) UnmarshalJSON(data []byte) error {
	tag, fields, err := protocol.SplitTagged(string(data))
	if err != nil {
		return fmt.Errorf("backtest: decode DataDest: %w", err)
	}
	switch tag {
	case "RedisChannel":
		var f redisChannelFields
		if err := protocol.DecodeStrict(fields, &f); err != nil {
			return fmt.Errorf("backtest: decode RedisChannel: %w", err)
		}
		*dd = DataDest{Kind: DestRedisChannel, Host: f.Host, Channel: f.Channel}
	case "Console":
		*dd = DataDest{Kind: DestConsole}
	case "Null":
		*dd = DataDest{Kind: DestNull}
	case "SimBroker":
		var f simbrokerFields
		if err := protocol.DecodeStrict(fields, &f); err != nil {
			return fmt.Errorf("backtest: decode SimBroker: %w", err)
		}
		*dd = DataDest{Kind: DestSimBroker, SimbrokerID: f.SimbrokerID}
	default:
		return fmt.Errorf("backtest: unknown DataDest variant %q", tag)
	}
	return nil
}
