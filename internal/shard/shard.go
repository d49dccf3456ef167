// Package shard wires the Unit Resolver, Spell Assembler, Cross-Reference
// Resolver, Event Correlator, Instance Lifecycle Manager, Persistence
// Adapter, and Analytics Mirror into a single-writer message loop. One
// Server handles one game server's message stream; cmd/lcec runs one per
// configured server_id.
package shard

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/correlator"
	"github.com/legacyplayers/lcec/internal/lifecycle"
	"github.com/legacyplayers/lcec/internal/metrics"
	"github.com/legacyplayers/lcec/internal/models"
)

// postProcessIntervalMs is the 5 s post-processing cadence.
const postProcessIntervalMs = 5_000

// UnitResolver is the shape both the Correlator and the Lifecycle Manager
// need; Server takes one and passes it to both, avoiding a dependency
// between those two packages.
type UnitResolver interface {
	Resolve(ctx context.Context, serverID uint32, guid uint64, summons map[uint64]uint64) (models.Unit, error)
}

// EventSink is the fan-out target for every event the Correlator commits.
type EventSink interface {
	OnCommit(encounterID uint64, ev models.Event)
}

// Server drives one server_id's message stream end to end.
type Server struct {
	serverID   uint32
	correlator *correlator.Correlator
	lifecycle  *lifecycle.Manager
	logger     *zap.SugaredLogger

	nextReset          uint64
	nextPostProcessing uint64
}

// New assembles a Server. resolver is shared between the correlator and the
// lifecycle manager; sink receives every committed event (typically a
// fan-out to the persistence adapter and the analytics mirror — see
// NewFanoutSink).
func New(serverID uint32, resolver UnitResolver, armory lifecycle.ArenaTeamLookup, persist lifecycle.Persister, sink EventSink, logger *zap.Logger) *Server {
	lm := lifecycle.New(serverID, resolver, armory, persist, logger)
	corr := correlator.New(serverID, resolver, lm, sink, logger)
	return &Server{
		serverID:           serverID,
		correlator:         corr,
		lifecycle:          lm,
		logger:             logger.Sugar().With("server_id", serverID),
		nextReset:          math.MaxUint64,
		nextPostProcessing: 0,
	}
}

// LoadInstanceResets seeds the reset-window table at startup from
// load_instance_resets.
func (s *Server) LoadInstanceResets(resets map[uint32]struct {
	Difficulty  uint32
	ResetTimeMs uint64
}) {
	s.lifecycle.LoadInstanceResets(resets)
	s.nextReset = 0
}

// LoadActiveInstances re-seeds in-flight instances from the last run before
// the first message is processed, so no message races the load.
func (s *Server) LoadActiveInstances(snapshots []lifecycle.ActiveInstanceSnapshot) {
	s.lifecycle.LoadActiveInstances(snapshots)
}

// Process implements one iteration of the main loop for message m.
func (s *Server) Process(ctx context.Context, m models.Message) {
	if p, ok := m.Payload.(models.Summon); ok {
		s.correlator.Summons()[p.Owner] = p.Unit
	}
	s.lifecycle.Observe(ctx, m, s.correlator.Summons())

	s.correlator.TestCommittable(ctx, m)
	s.correlator.Cleanup(m.TimestampMs)

	if m.TimestampMs >= s.nextReset {
		s.nextReset = s.lifecycle.ResetSweep(ctx, m.TimestampMs)
		metrics.ResetSweepObserved(s.serverID)
	}

	if m.TimestampMs >= s.nextPostProcessing {
		s.postProcess(m.TimestampMs)
		s.nextPostProcessing = m.TimestampMs + postProcessIntervalMs
	}

	s.correlator.PushPending(m)
}

// postProcess reports the gauges that only make sense sampled periodically
// rather than on every message (the post_process hook's payload is left
// open-ended by design, so this core treats it as an observability tick).
func (s *Server) postProcess(now uint64) {
	metrics.SetPendingBufferDepth(s.serverID, s.correlator.PendingBufferCount())
	metrics.SetInstancesActive(s.serverID, s.lifecycle.ActiveInstanceCount())
}
