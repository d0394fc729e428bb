// Package heartbeat implements HeartbeatSupervisor: a periodic sweep that
// marks Ready nodes NotReady once their heartbeat goes stale, and probes
// NotReady nodes for recovery so they can rejoin without waiting for their
// own next heartbeat tick.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/metrics"
	"github.com/piccolo-edge/piccolo/pkg/registry"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/rs/zerolog"
)

// Prober probes a node for liveness out-of-band of its own heartbeat
// stream, via RPCFabric's HealthCheck RPC. A nil error means the node
// answered and can be promoted back to Ready.
type Prober interface {
	Probe(ctx context.Context, node *types.Node) error
}

// Resyncer re-sends a recovered node its work once it answers a recovery
// probe, so artifacts it missed while unreachable reach it without waiting
// for a fresh bundle. The master's implementation re-dispatches every stored
// Model whose node reference resolves to the recovered node; it does not read
// or replay the /dispatch/* markers.
type Resyncer interface {
	Resync(ctx context.Context, node *types.Node) error
}

// Supervisor sweeps the node registry on a fixed interval.
type Supervisor struct {
	registry *registry.Registry
	prober   Prober
	resyncer Resyncer
	cfg      *config.Config
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Supervisor. prober may be nil, in which case NotReady nodes
// only recover by sending a heartbeat themselves; resyncer may be nil, in
// which case recovery promotes liveness without re-sending any artifacts.
func New(reg *registry.Registry, prober Prober, resyncer Resyncer, cfg *config.Config) *Supervisor {
	return &Supervisor{
		registry: reg,
		prober:   prober,
		resyncer: resyncer,
		cfg:      cfg,
		logger:   log.WithComponent("heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep classifies every node by liveness and acts on the two states that
// can change without an incoming heartbeat: Ready nodes past their timeout,
// and NotReady nodes that might have recovered. Initializing is left alone;
// spec.md's liveness state machine only advances it on an actual heartbeat.
func (s *Supervisor) sweep(ctx context.Context) {
	nodes, err := s.registry.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list nodes for heartbeat sweep")
		return
	}

	now := time.Now()
	for _, node := range nodes {
		switch node.Liveness {
		case types.LivenessReady:
			s.checkTimeout(node, now)
		case types.LivenessNotReady:
			s.checkRecovery(ctx, node)
		}
	}
}

// checkTimeout marks node NotReady once it has gone silent for longer than
// heartbeatTimeout. A heartbeat landing exactly at the threshold still
// counts as live, matching the registry's inclusive boundary.
func (s *Supervisor) checkTimeout(node *types.Node, now time.Time) {
	if now.Sub(node.LastHeartbeat) <= s.cfg.HeartbeatTimeout {
		return
	}
	if err := s.registry.MarkUnreachable(node.ID, "heartbeat timeout"); err != nil {
		s.logger.Warn().Err(err).Str("node", node.ID).Msg("failed to mark node NotReady")
		return
	}
	metrics.NodeTimeoutsTotal.Inc()
	s.logger.Warn().Str("node", node.ID).Dur("silence", now.Sub(node.LastHeartbeat)).Msg("node marked NotReady")
}

// checkRecovery probes a NotReady node; a successful probe promotes it back
// to Ready the same way a heartbeat would, and then calls the Resyncer (if
// any) for it.
func (s *Supervisor) checkRecovery(ctx context.Context, node *types.Node) {
	if s.prober == nil {
		return
	}
	if err := s.prober.Probe(ctx, node); err != nil {
		return
	}
	if err := s.registry.MarkHeartbeat(node.ID, time.Now()); err != nil {
		s.logger.Warn().Err(err).Str("node", node.ID).Msg("recovered node failed to re-promote to Ready")
		return
	}
	if s.resyncer == nil {
		return
	}
	if err := s.resyncer.Resync(ctx, node); err != nil {
		s.logger.Warn().Err(err).Str("node", node.ID).Msg("failed to resync recovered node")
	}
}
