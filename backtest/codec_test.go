package backtest_test

import (
	"encoding/json"
	"testing"

	"github.com/voltproto/tradecore/backtest"
)

func TestBacktestTypeRoundTrip(t *testing.T) {
	cases := []backtest.BacktestType{
		{Kind: backtest.Fast, DelayMs: 50},
		{Kind: backtest.Live},
	}

	for _, want := range cases {
		encoded, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal(%#v): %v", want, err)
		}
		var got backtest.BacktestType
		if err := json.Unmarshal(encoded, &got); err != nil {
			t.Fatalf("Unmarshal(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round-trip mismatch: encoded %q, got %#v, want %#v", encoded, got, want)
		}
	}
}

func TestDataSourceRoundTrip(t *testing.T) {
	cases := []backtest.DataSource{
		{Kind: backtest.SourceFlatfile, Path: "/data/eurusd.csv"},
		{Kind: backtest.SourceRedisChannel, Host: "localhost:6379", Channel: "ticks"},
		{Kind: backtest.SourcePostgres},
		{Kind: backtest.SourceRandom},
	}

	for _, want := range cases {
		encoded, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal(%#v): %v", want, err)
		}
		var got backtest.DataSource
		if err := json.Unmarshal(encoded, &got); err != nil {
			t.Fatalf("Unmarshal(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round-trip mismatch: encoded %q, got %#v, want %#v", encoded, got, want)
		}
	}
}

func TestDataDestRoundTrip(t *testing.T) {
	cases := []backtest.DataDest{
		{Kind: backtest.DestRedisChannel, Host: "localhost:6379", Channel: "fills"},
		{Kind: backtest.DestConsole},
		{Kind: backtest.DestNull},
		{Kind: backtest.DestSimBroker, SimbrokerID: "sb-1"},
	}

	for _, want := range cases {
		encoded, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal(%#v): %v", want, err)
		}
		var got backtest.DataDest
		if err := json.Unmarshal(encoded, &got); err != nil {
			t.Fatalf("Unmarshal(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round-trip mismatch: encoded %q, got %#v, want %#v", encoded, got, want)
		}
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	maxTickN := int64(1000)
	want := backtest.Definition{
		MaxTickN:       &maxTickN,
		Symbol:         "EURUSD",
		BacktestType:   backtest.BacktestType{Kind: backtest.Fast, DelayMs: 10},
		DataSource:     backtest.DataSource{Kind: backtest.SourceFlatfile, Path: "/data/eurusd.csv"},
		DataDest:       backtest.DataDest{Kind: backtest.DestSimBroker, SimbrokerID: "sb-1"},
		BrokerSettings: `{"balance":10000}`,
	}

	encoded, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got backtest.Definition
	if err := json.Unmarshal(encoded, &got); err != nil {
		t.Fatalf("Unmarshal(%q): %v", encoded, err)
	}
	if got.Symbol != want.Symbol || got.BacktestType != want.BacktestType ||
		got.DataSource != want.DataSource || got.DataDest != want.DataDest ||
		got.BrokerSettings != want.BrokerSettings {
		t.Errorf("round-trip mismatch: encoded %s, got %#v, want %#v", encoded, got, want)
	}
	if got.MaxTickN == nil || *got.MaxTickN != *want.MaxTickN {
		t.Errorf("MaxTickN mismatch: got %v, want %v", got.MaxTickN, want.MaxTickN)
	}
}

func TestWireExamples(t *testing.T) {
	t.Run("Fast BacktestType", func(t *testing.T) {
		got, err := json.Marshal(backtest.BacktestType{Kind: backtest.Fast, DelayMs: 100})
		if err != nil {
			t.Fatal(err)
		}
		want := `{"Fast":{"delay_ms":100}}`
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("Live BacktestType bare", func(t *testing.T) {
		got, err := json.Marshal(backtest.BacktestType{Kind: backtest.Live})
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != `"Live"` {
			t.Errorf("got %s, want %q", got, `"Live"`)
		}
	})

	t.Run("RedisChannel DataSource", func(t *testing.T) {
		got, err := json.Marshal(backtest.DataSource{Kind: backtest.SourceRedisChannel, Channel: "ticks"})
		if err != nil {
			t.Fatal(err)
		}
		want := `{"RedisChannel":{"channel":"ticks"}}`
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("Postgres DataSource bare", func(t *testing.T) {
		got, err := json.Marshal(backtest.DataSource{Kind: backtest.SourcePostgres})
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != `"Postgres"` {
			t.Errorf("got %s, want %q", got, `"Postgres"`)
		}
	})

	t.Run("SimBroker DataDest", func(t *testing.T) {
		got, err := json.Marshal(backtest.DataDest{Kind: backtest.DestSimBroker, SimbrokerID: "sb-1"})
		if err != nil {
			t.Fatal(err)
		}
		want := `{"SimBroker":{"simbroker_id":"sb-1"}}`
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})
}

func TestDecodeUnknownDataSourceVariant(t *testing.T) {
	var ds backtest.DataSource
	err := json.Unmarshal([]byte(`{"Frobnicate":{}}`), &ds)
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestDecodeRejectsExtraFields(t *testing.T) {
	var ds backtest.DataSource
	err := json.Unmarshal([]byte(`{"Flatfile":{"path":"/x","extra":"nope"}}`), &ds)
	if err == nil {
		t.Fatal("expected error for extra field")
	}
}
