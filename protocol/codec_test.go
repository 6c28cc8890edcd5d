package protocol_test

import (
	"testing"

	"github.com/voltproto/tradecore/protocol"
)

func TestCommandRoundTrip(t *testing.T) {
	cases := []protocol.Command{
		protocol.Ping{},
		protocol.Type{},
		protocol.Kill{},
		protocol.Ready{ModuleKind: protocol.KindTickParser, InstanceID: "abc-123"},
		protocol.SpawnMM{},
		protocol.SpawnOptimizer{Strategy: "meanrev"},
		protocol.SpawnTickParser{Symbol: "EURUSD"},
		protocol.SpawnBacktester{},
		protocol.SpawnFxcmDataDownloader{},
		protocol.Census{},
		protocol.KillAllInstances{},
		protocol.KillInstance{ID: "xyz-789"},
		protocol.StartBacktest{Definition: `{"symbol":"EURUSD"}`},
		protocol.PauseBacktest{ID: "bt-1"},
		protocol.ResumeBacktest{ID: "bt-1"},
		protocol.StopBacktest{ID: "bt-1"},
		protocol.ListBacktests{},
		protocol.SpawnSimbroker{Settings: "{}"},
		protocol.ListSimbrokers{},
		protocol.AddSMA{Period: 664},
		protocol.RemoveSMA{Period: 664},
	}

	for _, want := range cases {
		encoded, err := protocol.EncodeCommand(want)
		if err != nil {
			t.Fatalf("EncodeCommand(%#v): %v", want, err)
		}
		got, err := protocol.DecodeCommand(encoded)
		if err != nil {
			t.Fatalf("DecodeCommand(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round-trip mismatch: encoded %q, got %#v, want %#v", encoded, got, want)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []protocol.Response{
		protocol.Ok{},
		protocol.NewError("Command not accepted by the instance spawner"),
		protocol.Pong{Args: []string{"instance-id-1"}},
		protocol.Info{Info: "some info text"},
	}

	for _, want := range cases {
		encoded, err := protocol.EncodeResponse(want)
		if err != nil {
			t.Fatalf("EncodeResponse(%#v): %v", want, err)
		}
		got, err := protocol.DecodeResponse(encoded)
		if err != nil {
			t.Fatalf("DecodeResponse(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round-trip mismatch: encoded %q, got %#v, want %#v", encoded, got, want)
		}
	}
}

func TestWireExamples(t *testing.T) {
	t.Run("AddSMA", func(t *testing.T) {
		got, err := protocol.EncodeCommand(protocol.AddSMA{Period: 664})
		if err != nil {
			t.Fatal(err)
		}
		want := `{"AddSMA":{"period":664}}`
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("Ok bare string", func(t *testing.T) {
		got, err := protocol.EncodeResponse(protocol.Ok{})
		if err != nil {
			t.Fatal(err)
		}
		if got != `"Ok"` {
			t.Errorf("got %q, want %q", got, `"Ok"`)
		}
	})

	t.Run("Pong args", func(t *testing.T) {
		got, err := protocol.EncodeResponse(protocol.Pong{Args: []string{"self-id"}})
		if err != nil {
			t.Fatal(err)
		}
		want := `{"Pong":{"args":["self-id"]}}`
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestDecodeUnknownVariant(t *testing.T) {
	_, err := protocol.DecodeCommand(`{"Frobnicate":{}}`)
	if err == nil {
		t.Fatal("expected ParseError for unknown variant")
	}
	var pe *protocol.ParseError
	if !asParseError(err, &pe) {
		t.Errorf("expected *protocol.ParseError, got %T", err)
	}
}

func TestDecodeRejectsExtraFields(t *testing.T) {
	_, err := protocol.DecodeCommand(`{"AddSMA":{"period":5,"extra":"nope"}}`)
	if err == nil {
		t.Fatal("expected ParseError for extra field")
	}
}

func asParseError(err error, target **protocol.ParseError) bool {
	pe, ok := err.(*protocol.ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestWrapUniqueness(t *testing.T) {
	const n = 20000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		w := protocol.Wrap(protocol.Ping{})
		id := w.CorrelationID.String()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate correlation id after %d wraps: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestWrappedEnvelopeRoundTrip(t *testing.T) {
	w := protocol.Wrap(protocol.AddSMA{Period: 664})
	encoded, err := protocol.EncodeWrappedCommand(w)
	if err != nil {
		t.Fatal(err)
	}

	got, err := protocol.DecodeWrappedCommand(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got.CorrelationID != w.CorrelationID {
		t.Errorf("correlation id mismatch: got %s, want %s", got.CorrelationID, w.CorrelationID)
	}
	if got.Cmd != w.Cmd {
		t.Errorf("command mismatch: got %#v, want %#v", got.Cmd, w.Cmd)
	}

	res := protocol.WrapResponse(protocol.Pong{Args: []string{"abc"}}, w.CorrelationID)
	encodedRes, err := protocol.EncodeWrappedResponse(res)
	if err != nil {
		t.Fatal(err)
	}
	gotRes, err := protocol.DecodeWrappedResponse(encodedRes)
	if err != nil {
		t.Fatal(err)
	}
	if gotRes.CorrelationID != w.CorrelationID {
		t.Errorf("response correlation id mismatch: got %s, want %s", gotRes.CorrelationID, w.CorrelationID)
	}
}
