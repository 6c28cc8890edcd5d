package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltproto/tradecore/protocol"
)

// spawn execs the binary configured for kind with instanceID as its first
// argument, plus any extra positional arguments (e.g. a symbol or strategy
// name). It does not wait for the process to exit, and does not add the new
// instance to living - that happens when the process calls back with Ready.
func (s *Supervisor) spawn(kind protocol.ModuleKind, instanceID string, extra ...string) error {
	bin, ok := s.cfg.NodeBinaryPath[kind]
	if !ok {
		return fmt.Errorf("supervisor: no binary path configured for %s", kind)
	}

	path := bin
	if s.cfg.DistPath != "" {
		path = filepath.Join(s.cfg.DistPath, bin)
	}

	args := append([]string{instanceID}, extra...)
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawn %s: %w", kind, err)
	}

	s.log.Info("supervisor: spawned instance",
		zap.String("kind", string(kind)),
		zap.String("instance_id", instanceID),
		zap.String("args", strings.Join(args, " ")),
	)

	return nil
}

// SpawnMM spawns a fresh market-maker instance and returns its minted id.
func (s *Supervisor) SpawnMM(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if err := s.spawn(protocol.KindMM, id); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnOptimizer spawns a fresh optimizer instance for the given strategy.
func (s *Supervisor) SpawnOptimizer(ctx context.Context, strategy string) (string, error) {
	id := uuid.New().String()
	if err := s.spawn(protocol.KindOptimizer, id, strategy); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnTickParser spawns a fresh tick-parser instance for the given symbol.
func (s *Supervisor) SpawnTickParser(ctx context.Context, symbol string) (string, error) {
	id := uuid.New().String()
	if err := s.spawn(protocol.KindTickParser, id, symbol); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnBacktester spawns a fresh backtester instance.
func (s *Supervisor) SpawnBacktester(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if err := s.spawn(protocol.KindBacktester, id); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnFxcmDataDownloader spawns a fresh FXCM data-downloader instance.
func (s *Supervisor) SpawnFxcmDataDownloader(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if err := s.spawn(protocol.KindFxcmDD, id); err != nil {
		return "", err
	}
	return id, nil
}

// respawn replaces a dead instance with a fresh one of the same kind. Unlike
// a plain Spawn call this does not need a symbol/strategy argument recovered
// from the dead instance - a respawned MM/backtester/downloader starts with
// its default configuration, and a respawned tick-parser or optimizer is
// restarted bare and expected to re-subscribe via its own Ready/AddSMA
// sequence once reinstated.
func (s *Supervisor) respawn(dead Instance) (string, error) {
	switch dead.Kind {
	case protocol.KindMM:
		return s.SpawnMM(context.Background())
	case protocol.KindOptimizer:
		return s.SpawnOptimizer(context.Background(), "")
	case protocol.KindTickParser:
		return s.SpawnTickParser(context.Background(), "")
	case protocol.KindBacktester:
		return s.SpawnBacktester(context.Background())
	case protocol.KindFxcmDD:
		return s.SpawnFxcmDataDownloader(context.Background())
	default:
		return "", fmt.Errorf("supervisor: don't know how to respawn kind %s", dead.Kind)
	}
}
