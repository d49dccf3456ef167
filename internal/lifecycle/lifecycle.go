// Package lifecycle implements the Instance Lifecycle Manager: creation,
// participant tracking, finalization, and reset-window expiry of instanced
// encounters. It is driven by the same message stream as the Event
// Correlator and supplies the encounter_id every committed event is
// stamped with.
package lifecycle

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/models"
)

// raidMapIDs is the set of map ids treated as raid instances.
var raidMapIDs = map[uint32]bool{
	249: true, 309: true, 409: true, 469: true, 509: true, 531: true,
	532: true, 533: true, 534: true, 544: true, 548: true, 550: true,
	564: true, 565: true, 568: true, 580: true, 603: true, 615: true,
	616: true, 624: true, 631: true, 649: true, 724: true,
}

// forcedRaidDifficulty returns the corrected difficulty for a raid map,
// overriding what the client reported; older clients report raid
// difficulty unreliably, so known maps freeze the semantics.
func forcedRaidDifficulty(mapID uint32, reported uint32) uint32 {
	switch mapID {
	case 249, 409, 469:
		return 9
	case 309, 509, 531:
		return 148
	case 532, 568:
		return 3
	case 534, 544, 548, 550, 564, 565, 580:
		return 4
	case 533:
		if reported == 3 || reported == 4 {
			return reported
		}
		return 9
	default:
		return reported
	}
}

// UnitResolver is the subset of the Unit Resolver's interface the lifecycle
// manager needs to upsert participant rosters.
type UnitResolver interface {
	Resolve(ctx context.Context, serverID uint32, guid uint64, summons map[uint64]uint64) (models.Unit, error)
}

// ArenaTeamLookup is the subset of the armory oracle used to resolve rated
// arena team uids into their persisted team ids.
type ArenaTeamLookup interface {
	LookupArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error)
}

// Persister is the slice of the Persistence Adapter the lifecycle manager
// drives. Every operation reports success; a false return means the
// in-memory mirror must not advance, so the next equivalent message retries.
type Persister interface {
	CreateInstanceMeta(ctx context.Context, serverID uint32, startTs uint64, instanceID, mapID uint32) (encounterID uint64, created bool, err error)
	FinalizeInstanceMeta(ctx context.Context, encounterID uint64, endTs uint64) (ok bool, err error)
	InsertInstanceRaid(ctx context.Context, encounterID uint64, mapDifficulty uint32) (ok bool, err error)
	InsertInstanceSkirmish(ctx context.Context, encounterID uint64) (ok bool, err error)
	InsertInstanceRatedArena(ctx context.Context, encounterID uint64, teamID1, teamID2 uint32) (ok bool, err error)
	InsertInstanceBattleground(ctx context.Context, encounterID uint64) (ok bool, err error)
	UpdateSkirmishResult(ctx context.Context, encounterID uint64, winner *uint8) (ok bool, err error)
	UpdateRatedArenaResult(ctx context.Context, encounterID uint64, winner *uint8, teamChange1, teamChange2 *int32) (ok bool, err error)
	UpdateBattlegroundResult(ctx context.Context, encounterID uint64, winner *uint8, scoreAlliance, scoreHorde *uint32) (ok bool, err error)
	UpsertParticipant(ctx context.Context, encounterID uint64, characterID uint32, historyID *uint32) (ok bool, err error)
}

type activeInstance struct {
	encounterID uint64
	entered     uint64
	mapID       uint32
}

type resetWindow struct {
	difficulty  uint32
	resetTimeMs uint64
}

// Manager owns every piece of state exclusive to the
// single writer: active_instances, participants, instance_resets, plus the
// unit->instance_id index used to stamp committed events with an
// encounter_id. None of it is published; only EncounterFor crosses the
// boundary, and it returns a value, not a reference.
type Manager struct {
	serverID uint32
	resolver UnitResolver
	armory   ArenaTeamLookup
	persist  Persister
	logger   *zap.SugaredLogger

	unitToInstance map[uint64]uint32
	active         map[uint32]*activeInstance
	participants   map[uint64]map[uint32]*uint32
	instanceResets map[uint32]resetWindow
}

func New(serverID uint32, resolver UnitResolver, armoryLookup ArenaTeamLookup, persist Persister, logger *zap.Logger) *Manager {
	return &Manager{
		serverID:       serverID,
		resolver:       resolver,
		armory:         armoryLookup,
		persist:        persist,
		logger:         logger.Sugar().With("server_id", serverID),
		unitToInstance: make(map[uint64]uint32),
		active:         make(map[uint32]*activeInstance),
		participants:   make(map[uint64]map[uint32]*uint32),
		instanceResets: make(map[uint32]resetWindow),
	}
}

// ActiveInstanceSnapshot is the subset of a persisted instance_meta row
// needed to re-seed an in-memory activeInstance at startup.
type ActiveInstanceSnapshot struct {
	EncounterID uint64
	InstanceID  uint32
	MapID       uint32
	EnteredMs   uint64
}

// LoadActiveInstances re-seeds the in-memory active-instance table from
// instances that were still open when the process last stopped, so no
// message can race the load.
func (m *Manager) LoadActiveInstances(snapshots []ActiveInstanceSnapshot) {
	for _, s := range snapshots {
		m.active[s.InstanceID] = &activeInstance{encounterID: s.EncounterID, entered: s.EnteredMs, mapID: s.MapID}
	}
}

// LoadInstanceResets seeds the reset-window table at startup.
func (m *Manager) LoadInstanceResets(resets map[uint32]struct {
	Difficulty  uint32
	ResetTimeMs uint64
}) {
	for mapID, w := range resets {
		m.instanceResets[mapID] = resetWindow{difficulty: w.Difficulty, resetTimeMs: w.ResetTimeMs}
	}
}

// EncounterFor reports the encounter_id a unit's last known position binds
// it to, if that instance is still active. It is the read path the
// Correlator calls at commit time to decide whether an event is
// pre-encounter noise.
func (m *Manager) EncounterFor(unitGUID uint64) (uint64, bool) {
	instanceID, ok := m.unitToInstance[unitGUID]
	if !ok {
		return 0, false
	}
	inst, ok := m.active[instanceID]
	if !ok {
		return 0, false
	}
	return inst.encounterID, true
}

// ActiveInstanceCount reports how many instances are currently active, for
// the post-processing observability tick.
func (m *Manager) ActiveInstanceCount() int {
	return len(m.active)
}

// Observe implements extract_meta_information: instance
// creation, participant upserts, and explicit-End finalization. summons is
// the Correlator's owner->summoned map, threaded through for unit
// resolution rather than duplicated here.
func (m *Manager) Observe(ctx context.Context, msg models.Message, summons map[uint64]uint64) {
	switch p := msg.Payload.(type) {
	case models.Position:
		m.observePosition(ctx, msg.TimestampMs, p, summons)
	case models.InstancePvPStart:
		m.observeStart(ctx, msg.TimestampMs, p)
	case models.InstancePvPEnd:
		m.observeEnd(ctx, msg.TimestampMs, p)
	}
}

func (m *Manager) observePosition(ctx context.Context, ts uint64, p models.Position, summons map[uint64]uint64) {
	if raidMapIDs[p.MapID] {
		if encounterID, created := m.createInstanceMeta(ctx, ts, p.InstanceID, p.MapID); created {
			difficulty := forcedRaidDifficulty(p.MapID, p.MapDifficulty)
			if ok, err := m.persist.InsertInstanceRaid(ctx, encounterID, difficulty); err != nil || !ok {
				m.logger.Warnw("insert instance_raid failed", "encounter_id", encounterID, "error", err)
			}
		}
	}

	m.unitToInstance[p.Unit] = p.InstanceID

	inst, ok := m.active[p.InstanceID]
	if !ok {
		return
	}
	unit, err := m.resolver.Resolve(ctx, m.serverID, p.Unit, summons)
	if err != nil {
		return
	}
	player, ok := unit.(models.Player)
	if !ok {
		return
	}

	roster, ok := m.participants[inst.encounterID]
	if !ok {
		roster = make(map[uint32]*uint32)
		m.participants[inst.encounterID] = roster
	}

	if cached, tracked := roster[player.CharacterID]; tracked {
		if !samePtr(cached, player.HistoryID) {
			if ok, err := m.persist.UpsertParticipant(ctx, inst.encounterID, player.CharacterID, player.HistoryID); err != nil {
				m.logger.Warnw("update participant history failed", "error", err)
			} else if ok {
				roster[player.CharacterID] = player.HistoryID
			}
		}
		return
	}

	if ok, err := m.persist.UpsertParticipant(ctx, inst.encounterID, player.CharacterID, player.HistoryID); err != nil {
		m.logger.Warnw("insert participant failed", "error", err)
	} else if ok {
		roster[player.CharacterID] = player.HistoryID
	}
}

func samePtr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Manager) observeStart(ctx context.Context, ts uint64, p models.InstancePvPStart) {
	encounterID, created := m.createInstanceMeta(ctx, ts, p.InstanceID, p.MapID)
	if !created {
		return
	}

	switch p.Mode {
	case models.PvPUnrated:
		if ok, err := m.persist.InsertInstanceSkirmish(ctx, encounterID); err != nil || !ok {
			m.logger.Warnw("insert instance_skirmish failed", "encounter_id", encounterID, "error", err)
		}
	case models.PvPRated:
		team1, err1 := m.armory.LookupArenaTeam(ctx, m.serverID, p.TeamUID1)
		team2, err2 := m.armory.LookupArenaTeam(ctx, m.serverID, p.TeamUID2)
		if err1 != nil || err2 != nil || team1 == nil || team2 == nil {
			m.logger.Warnw("rated arena team lookup failed", "encounter_id", encounterID)
			return
		}
		if ok, err := m.persist.InsertInstanceRatedArena(ctx, encounterID, team1.TeamID, team2.TeamID); err != nil || !ok {
			m.logger.Warnw("insert instance_rated_arena failed", "encounter_id", encounterID, "error", err)
		}
	case models.PvPBattleground:
		if ok, err := m.persist.InsertInstanceBattleground(ctx, encounterID); err != nil || !ok {
			m.logger.Warnw("insert instance_battleground failed", "encounter_id", encounterID, "error", err)
		}
	}
}

func (m *Manager) observeEnd(ctx context.Context, ts uint64, p models.InstancePvPEnd) {
	inst, ok := m.active[p.InstanceID]
	if !ok {
		return
	}

	ok, err := m.persist.FinalizeInstanceMeta(ctx, inst.encounterID, ts)
	if err != nil || !ok {
		m.logger.Warnw("finalize instance_meta failed", "encounter_id", inst.encounterID, "error", err)
		return
	}

	switch p.Mode {
	case models.PvPUnrated:
		if ok, err := m.persist.UpdateSkirmishResult(ctx, inst.encounterID, p.Winner); err != nil || !ok {
			m.logger.Warnw("update instance_skirmish failed", "encounter_id", inst.encounterID, "error", err)
		}
	case models.PvPRated:
		if ok, err := m.persist.UpdateRatedArenaResult(ctx, inst.encounterID, p.Winner, p.TeamChange1, p.TeamChange2); err != nil || !ok {
			m.logger.Warnw("update instance_rated_arena failed", "encounter_id", inst.encounterID, "error", err)
		}
	case models.PvPBattleground:
		if ok, err := m.persist.UpdateBattlegroundResult(ctx, inst.encounterID, p.Winner, p.ScoreAlliance, p.ScoreHorde); err != nil || !ok {
			m.logger.Warnw("update instance_battleground failed", "encounter_id", inst.encounterID, "error", err)
		}
	}

	delete(m.participants, inst.encounterID)
	delete(m.active, p.InstanceID)
}

func (m *Manager) createInstanceMeta(ctx context.Context, startTs uint64, instanceID, mapID uint32) (uint64, bool) {
	if _, exists := m.active[instanceID]; exists {
		return 0, false
	}
	encounterID, created, err := m.persist.CreateInstanceMeta(ctx, m.serverID, startTs, instanceID, mapID)
	if err != nil || !created {
		if err != nil {
			m.logger.Warnw("create instance_meta failed", "instance_id", instanceID, "error", err)
		}
		return 0, false
	}
	m.active[instanceID] = &activeInstance{encounterID: encounterID, entered: startTs, mapID: mapID}
	return encounterID, true
}

// ResetSweep implements reset_instances: finalizes every active instance
// whose reset window has closed, and returns the next timestamp at which a
// sweep might have work to do, or math.MaxUint64 if none is scheduled.
func (m *Manager) ResetSweep(ctx context.Context, now uint64) uint64 {
	for instanceID, inst := range m.active {
		window, ok := m.instanceResets[inst.mapID]
		if !ok {
			continue
		}
		if !(inst.entered <= window.resetTimeMs && now > window.resetTimeMs) {
			continue
		}
		ok, err := m.persist.FinalizeInstanceMeta(ctx, inst.encounterID, now)
		if err != nil || !ok {
			m.logger.Warnw("reset sweep finalize failed", "encounter_id", inst.encounterID, "error", err)
			continue
		}
		delete(m.active, instanceID)
		delete(m.participants, inst.encounterID)
	}

	next := uint64(math.MaxUint64)
	for _, window := range m.instanceResets {
		if window.resetTimeMs >= now && window.resetTimeMs < next {
			next = window.resetTimeMs
		}
	}
	return next
}
