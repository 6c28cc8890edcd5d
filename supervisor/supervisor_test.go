package supervisor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
	"github.com/voltproto/tradecore/supervisor"
)

func testConfig() supervisor.Config {
	return supervisor.Config{
		Config: bus.Config{
			ControlChannel:      "control",
			ResponsesChannel:    "responses",
			PerRequestTimeoutMs: 100,
			MaxRetries:          1,
		},
		NodeBinaryPath: map[protocol.ModuleKind]string{
			protocol.KindMM: "/bin/true",
		},
	}
}

// mockInstance subscribes to its own channel and answers Ping/Type directly,
// standing in for a spawned module process in tests that don't want to exec
// a real binary.
func mockInstance(t *testing.T, broker pubsub.Broker, id string, kind protocol.ModuleKind, responsesChannel string) {
	t.Helper()
	err := broker.Subscribe(context.Background(), id, func(payload []byte) {
		wrapped, err := protocol.DecodeWrappedCommand(string(payload))
		if err != nil {
			return
		}
		var res protocol.Response
		switch wrapped.Cmd.(type) {
		case protocol.Ping:
			res = protocol.Pong{Args: []string{id}}
		case protocol.Type:
			res = protocol.Info{Info: string(kind)}
		default:
			return
		}
		encoded, _ := protocol.EncodeWrappedResponse(protocol.WrapResponse(res, wrapped.CorrelationID))
		_ = broker.Publish(context.Background(), responsesChannel, []byte(encoded))
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCensusEmpty(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg.Config, nil)
	sup := supervisor.New(uuid.New().String(), client, broker, cfg, nil)

	res := dispatchViaListen(t, sup, broker, cfg, protocol.Census{})
	info, ok := res.(protocol.Info)
	if !ok {
		t.Fatalf("expected Info response, got %T", res)
	}
	if info.Info != "[]" {
		t.Errorf("expected empty census, got %q", info.Info)
	}
}

func TestReadyRegistersInstance(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg.Config, nil)
	sup := supervisor.New(uuid.New().String(), client, broker, cfg, nil)

	instanceID := uuid.New().String()
	res := dispatchViaListen(t, sup, broker, cfg, protocol.Ready{ModuleKind: protocol.KindTickParser, InstanceID: instanceID})
	if _, ok := res.(protocol.Ok); !ok {
		t.Fatalf("expected Ok response, got %T", res)
	}

	census := dispatchViaListen(t, sup, broker, cfg, protocol.Census{})
	info, ok := census.(protocol.Info)
	if !ok || info.Info == "[]" {
		t.Fatalf("expected non-empty census after Ready, got %#v", census)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg.Config, nil)
	sup := supervisor.New(uuid.New().String(), client, broker, cfg, nil)

	res := dispatchViaListen(t, sup, broker, cfg, protocol.AddSMA{Period: 5})
	if _, ok := res.(protocol.Error); !ok {
		t.Fatalf("expected Error response for a command the supervisor doesn't accept, got %T", res)
	}
}

func TestBootstrapRegistersSupervisorItself(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	client := bus.New(broker, cfg.Config, nil)
	id := uuid.New().String()
	sup := supervisor.New(id, client, broker, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := sup.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	census := dispatchViaListen(t, sup, broker, cfg, protocol.Census{})
	info, ok := census.(protocol.Info)
	if !ok {
		t.Fatalf("expected Info response, got %T", census)
	}
	if !strings.Contains(info.Info, id) {
		t.Errorf("expected census %q to include the supervisor's own id %q", info.Info, id)
	}
}

func TestHeartbeatRemovesInstanceThatNeverAnswers(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	cfg.HeartbeatInterval = 15 * time.Millisecond
	client := bus.New(broker, cfg.Config, nil)
	sup := supervisor.New(uuid.New().String(), client, broker, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	missingID := uuid.New().String()
	dispatchViaListen(t, sup, broker, cfg, protocol.Ready{ModuleKind: protocol.KindTickParser, InstanceID: missingID})

	hbCtx, hbCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer hbCancel()
	sup.Heartbeat(hbCtx)

	census := dispatchViaListen(t, sup, broker, cfg, protocol.Census{})
	info, ok := census.(protocol.Info)
	if !ok {
		t.Fatalf("expected Info response, got %T", census)
	}
	if info.Info != "[]" {
		t.Errorf("expected the unresponsive instance to be removed, census is %q", info.Info)
	}
}

func TestHeartbeatReinstatesSlowResponder(t *testing.T) {
	broker := pubsub.NewInMemory()
	defer broker.Close()

	cfg := testConfig()
	cfg.HeartbeatInterval = 15 * time.Millisecond
	client := bus.New(broker, cfg.Config, nil)
	sup := supervisor.New(uuid.New().String(), client, broker, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	slowID := uuid.New().String()
	mockInstance(t, broker, slowID, protocol.KindMM, cfg.ResponsesChannel)
	dispatchViaListen(t, sup, broker, cfg, protocol.Ready{ModuleKind: protocol.KindMM, InstanceID: slowID})

	hbCtx, hbCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer hbCancel()
	sup.Heartbeat(hbCtx)

	census := dispatchViaListen(t, sup, broker, cfg, protocol.Census{})
	info, ok := census.(protocol.Info)
	if !ok {
		t.Fatalf("expected Info response, got %T", census)
	}
	if info.Info == "[]" {
		t.Errorf("expected the Type-answering instance to remain registered, got %q", info.Info)
	}
}

// dispatchViaListen starts the supervisor's Listen loop, executes cmd
// against the supervisor's own channel via a bus.Client, and returns the
// response.
func dispatchViaListen(t *testing.T, sup *supervisor.Supervisor, broker pubsub.Broker, cfg supervisor.Config, cmd protocol.Command) protocol.Response {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	caller := bus.New(broker, cfg.Config, nil)
	res, err := caller.Execute(ctx, cmd, supervisorChannel(sup))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func supervisorChannel(sup *supervisor.Supervisor) string {
	return sup.ID()
}
