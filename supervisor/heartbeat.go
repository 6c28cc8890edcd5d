package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/protocol"
)

// census renders the living instance list as a JSON array.
func (s *Supervisor) census() string {
	instances := s.snapshot()
	if instances == nil {
		instances = []Instance{}
	}

	out, err := json.Marshal(instances)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// killAll sends Kill to every living instance and clears the list.
func (s *Supervisor) killAll(ctx context.Context) {
	for _, inst := range s.snapshot() {
		if err := s.bus.PublishRaw(ctx, protocol.Kill{}, inst.ID); err != nil {
			s.log.Warn("supervisor: failed to kill instance", zap.String("instance", inst.ID), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.living = nil
	s.mu.Unlock()
}

// Heartbeat runs the missing-instance sweep every HeartbeatInterval until ctx
// is canceled. Each tick it broadcasts Ping, compares respondents against the
// living list, and for the first instance that didn't answer, sends a
// confirming Type probe directly to its own channel. An instance that
// answers Type is reinstated (it was merely slow to answer the broadcast); an
// instance that doesn't is declared dead, removed, and respawned fresh under
// a newly minted id of the same kind.
func (s *Supervisor) Heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	responses, err := s.bus.Broadcast(ctx, protocol.Ping{}, s.cfg.ControlChannel)
	if err != nil {
		s.log.Warn("supervisor: heartbeat ping sweep failed", zap.Error(err))
		return
	}

	answered := make(map[string]struct{})
	for _, res := range responses {
		pong, ok := res.(protocol.Pong)
		if !ok || len(pong.Args) == 0 {
			continue
		}
		answered[pong.Args[0]] = struct{}{}
	}

	for _, inst := range s.snapshot() {
		if _, ok := answered[inst.ID]; ok {
			continue
		}
		s.handleMissing(ctx, inst)
		return
	}
}

func (s *Supervisor) handleMissing(ctx context.Context, missing Instance) {
	res, err := s.bus.Execute(ctx, protocol.Type{}, missing.ID)
	if err == nil {
		if info, ok := res.(protocol.Info); ok {
			s.log.Info("supervisor: reinstating instance that missed the broadcast",
				zap.String("instance", missing.ID), zap.String("kind", info.Info))
			return
		}
	}

	dead, ok := s.removeInstance(missing.ID)
	if !ok {
		return
	}

	s.log.Warn("supervisor: instance declared dead, respawning",
		zap.String("instance", dead.ID), zap.String("kind", string(dead.Kind)))

	if _, err := s.respawn(dead); err != nil {
		s.log.Error("supervisor: failed to respawn dead instance",
			zap.String("kind", string(dead.Kind)), zap.Error(err))
	}
}
