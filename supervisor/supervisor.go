// Package supervisor implements the platform's instance manager: it spawns
// module processes, tracks which are alive via a Ping heartbeat, and
// reinstates or respawns any it finds missing.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/bus"
	"github.com/voltproto/tradecore/instanceshell"
	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
)

// Instance is the supervisor's record of one live module process.
type Instance struct {
	Kind          protocol.ModuleKind `json:"kind"`
	ID            string              `json:"id"`
	LastKnownGood time.Time           `json:"last_known_good"`
}

// Config holds the supervisor's bus wiring plus its own spawn policy.
type Config struct {
	bus.Config

	// KillStragglers, when true, kills any instance discovered responding
	// to the bootstrap Ping sweep that the supervisor did not itself spawn.
	KillStragglers bool

	// DistPath is the directory module executables live in.
	DistPath string

	// NodeBinaryPath names the binary to exec for each module kind,
	// relative to DistPath. Keyed by ModuleKind.
	NodeBinaryPath map[protocol.ModuleKind]string

	// HeartbeatInterval paces the missing-instance sweep. Defaults to
	// 350ms if zero.
	HeartbeatInterval time.Duration
}

func (c Config) interval() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 350 * time.Millisecond
	}
	return c.HeartbeatInterval
}

// Supervisor bootstraps, tracks, and heals the platform's module processes.
type Supervisor struct {
	id     string
	bus    *bus.Client
	broker pubsub.Broker
	cfg    Config
	log    *zap.Logger

	mu     sync.Mutex
	living []Instance

	onKill func()
}

// New returns a Supervisor. broker is the raw substrate the supervisor
// subscribes to as a command responder, distinct from the bus.Client's role
// as a caller. log may be nil. Kill schedules process exit after a 3-second
// grace period.
func New(id string, busClient *bus.Client, broker pubsub.Broker, cfg Config, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		id:     id,
		bus:    busClient,
		broker: broker,
		cfg:    cfg,
		log:    log,
		onKill: func() {
			time.AfterFunc(3*time.Second, func() { os.Exit(0) })
		},
	}
}

// ID returns the supervisor's own instance id, the channel it listens on for
// directly addressed commands.
func (s *Supervisor) ID() string {
	return s.id
}

func (s *Supervisor) addInstance(inst Instance) {
	if inst.LastKnownGood.IsZero() {
		inst.LastKnownGood = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.living {
		if existing.ID == inst.ID {
			return
		}
	}
	s.living = append(s.living, inst)
}

func (s *Supervisor) removeInstance(id string) (Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inst := range s.living {
		if inst.ID == id {
			s.living = append(s.living[:i], s.living[i+1:]...)
			return inst, true
		}
	}
	return Instance{}, false
}

func (s *Supervisor) snapshot() []Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Instance, len(s.living))
	copy(out, s.living)
	return out
}

// Bootstrap spawns the baseline MM instance, then sweeps for any stragglers
// already answering Ping that the supervisor did not itself spawn -
// reinstating them as living instances, or killing them if KillStragglers is
// set.
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	// The supervisor represents itself in its own living list, so the
	// broadcast Ping sweep below (which it also answers, via its own
	// Listen loop) is a symmetric round-trip check like any other
	// instance's, not a special case.
	s.addInstance(Instance{Kind: protocol.KindSpawner, ID: s.id})

	if _, err := s.SpawnMM(ctx); err != nil {
		return fmt.Errorf("supervisor: bootstrap spawn_mm: %w", err)
	}

	responses, err := s.bus.Broadcast(ctx, protocol.Ping{}, s.cfg.ControlChannel)
	if err != nil {
		return fmt.Errorf("supervisor: bootstrap ping sweep: %w", err)
	}

	known := make(map[string]struct{})
	for _, inst := range s.snapshot() {
		known[inst.ID] = struct{}{}
	}

	for _, res := range responses {
		pong, ok := res.(protocol.Pong)
		if !ok || len(pong.Args) == 0 {
			continue
		}
		id := pong.Args[0]
		if _, ok := known[id]; ok {
			continue
		}

		if s.cfg.KillStragglers {
			if err := s.bus.PublishRaw(ctx, protocol.Kill{}, id); err != nil {
				s.log.Warn("supervisor: failed to kill straggler", zap.String("instance", id), zap.Error(err))
			}
			continue
		}

		kindRes, err := s.bus.Execute(ctx, protocol.Type{}, id)
		if err != nil {
			s.log.Warn("supervisor: straggler did not answer Type", zap.String("instance", id), zap.Error(err))
			continue
		}
		info, ok := kindRes.(protocol.Info)
		if !ok {
			continue
		}
		s.addInstance(Instance{Kind: protocol.ModuleKind(info.Info), ID: id})
	}

	return nil
}

// Listen dispatches every inbound command on the control channel and the
// supervisor's own instance channel until ctx is canceled.
func (s *Supervisor) Listen(ctx context.Context) error {
	return instanceshell.Listen(ctx, s.broker, []string{s.cfg.ControlChannel, s.id}, s.cfg.ResponsesChannel, s.dispatch, s.log)
}

func (s *Supervisor) dispatch(cmd protocol.Command) protocol.Response {
	if _, ok := cmd.(protocol.Type); ok {
		return protocol.Info{Info: "Supervisor"}
	}

	base := instanceshell.Base{InstanceID: s.id, Kind: protocol.KindSpawner, OnKill: s.onKill}
	if res, ok := base.Handle(cmd); ok {
		return res
	}

	switch c := cmd.(type) {
	case protocol.Ready:
		s.addInstance(Instance{Kind: c.ModuleKind, ID: c.InstanceID})
		return protocol.Ok{}

	case protocol.Census:
		return protocol.Info{Info: s.census()}

	case protocol.KillAllInstances:
		s.killAll(context.Background())
		return protocol.Ok{}

	case protocol.KillInstance:
		if inst, ok := s.removeInstance(c.ID); ok {
			_ = s.bus.PublishRaw(context.Background(), protocol.Kill{}, inst.ID)
			return protocol.Ok{}
		}
		return protocol.NewError("no such instance: %s", c.ID)

	case protocol.SpawnMM:
		id, err := s.SpawnMM(context.Background())
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id}

	case protocol.SpawnOptimizer:
		id, err := s.SpawnOptimizer(context.Background(), c.Strategy)
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id}

	case protocol.SpawnTickParser:
		id, err := s.SpawnTickParser(context.Background(), c.Symbol)
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id}

	case protocol.SpawnBacktester:
		id, err := s.SpawnBacktester(context.Background())
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id}

	case protocol.SpawnFxcmDataDownloader:
		id, err := s.SpawnFxcmDataDownloader(context.Background())
		if err != nil {
			return protocol.NewError("%v", err)
		}
		return protocol.Info{Info: id}

	default:
		return instanceshell.NotAccepted()
	}
}
