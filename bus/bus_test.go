package bus_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
)

func testConfig() bus.Config {
	return bus.Config{
		ControlChannel:      "control",
		ResponsesChannel:    "responses",
		ConnectionPoolSize:  1,
		PerRequestTimeoutMs: 50,
		MaxRetries:          2,
	}
}

// echoResponder subscribes to targetChannel and answers every wrapped
// command with an Ok response carrying the same correlation id, published on
// responsesChannel.
func echoResponder(t *testing.T, broker pubsub.Broker, targetChannel, responsesChannel string) {
	t.Helper()
	err := broker.Subscribe(context.Background(), targetChannel, func(payload []byte) {
		wrapped, err := protocol.DecodeWrappedCommand(string(payload))
		if err != nil {
			return
		}
		res := protocol.WrapResponse(protocol.Ok{}, wrapped.CorrelationID)
		encoded, err := protocol.EncodeWrappedResponse(res)
		if err != nil {
			return
		}
		broker.Publish(context.Background(), responsesChannel, []byte(encoded))
	})
	if err != nil {
		t.Fatalf("subscribe echo responder: %v", err)
	}
}

func TestExecuteResponsePairing(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	echoResponder(t, broker, cfg.ControlChannel, cfg.ResponsesChannel)
	time.Sleep(20 * time.Millisecond)

	client := bus.New(broker, cfg, nil)

	const n = 200
	var wg sync.WaitGroup
	var mismatches int64

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Execute(context.Background(), protocol.Ping{}, cfg.ControlChannel)
			if err != nil {
				atomic.AddInt64(&mismatches, 1)
				return
			}
			if _, ok := res.(protocol.Ok); !ok {
				atomic.AddInt64(&mismatches, 1)
			}
		}()
	}
	wg.Wait()

	if mismatches != 0 {
		t.Errorf("%d of %d concurrent executes failed or got the wrong response", mismatches, n)
	}
}

func TestExecuteTimeout(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	var publishCount int32
	// Subscribe a counter but never respond, to observe republish count.
	err := broker.Subscribe(context.Background(), "control", func(payload []byte) {
		atomic.AddInt32(&publishCount, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	cfg := testConfig()
	client := bus.New(broker, cfg, nil)

	start := time.Now()
	_, err = client.Execute(context.Background(), protocol.Ping{}, cfg.ControlChannel)
	elapsed := time.Since(start)

	if err != bus.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	expected := time.Duration(cfg.PerRequestTimeoutMs) * time.Millisecond * time.Duration(cfg.MaxRetries+1)
	if elapsed < expected {
		t.Errorf("resolved too early: elapsed %v, expected at least %v", elapsed, expected)
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&publishCount); got != int32(cfg.MaxRetries+1) {
		t.Errorf("expected %d published copies, got %d", cfg.MaxRetries+1, got)
	}
}

func TestBroadcastCollection(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()

	for i := 0; i < 3; i++ {
		instanceID := i
		err := broker.Subscribe(context.Background(), cfg.ControlChannel, func(payload []byte) {
			wrapped, err := protocol.DecodeWrappedCommand(string(payload))
			if err != nil {
				return
			}
			res := protocol.WrapResponse(protocol.Pong{Args: []string{string(rune('a' + instanceID))}}, wrapped.CorrelationID)
			encoded, _ := protocol.EncodeWrappedResponse(res)
			broker.Publish(context.Background(), cfg.ResponsesChannel, []byte(encoded))
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	client := bus.New(broker, cfg, nil)
	responses, err := client.Broadcast(context.Background(), protocol.Ping{}, cfg.ControlChannel)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(responses) != 3 {
		t.Errorf("expected 3 responses, got %d", len(responses))
	}
}

func TestBroadcastNoResponders(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg, nil)

	responses, err := client.Broadcast(context.Background(), protocol.Ping{}, cfg.ControlChannel)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(responses) != 0 {
		t.Errorf("expected 0 responses, got %d", len(responses))
	}
}

func TestExecuteCancellationReleasesWaiter(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Execute(ctx, protocol.Ping{}, cfg.ControlChannel)
	if err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}
