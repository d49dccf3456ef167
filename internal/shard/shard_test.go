package shard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/lifecycle"
	"github.com/legacyplayers/lcec/internal/models"
)

const (
	p1 = uint64(1) << 63 | 1
	p2 = uint64(1) << 63 | 2
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, serverID uint32, guid uint64, summons map[uint64]uint64) (models.Unit, error) {
	if guid&(1<<63) != 0 {
		return models.Player{CharacterID: uint32(guid)}, nil
	}
	return models.Creature{GUID: guid}, nil
}

type stubArmory struct{}

func (stubArmory) LookupArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error) {
	return &models.ArenaTeamRecord{TeamUID: teamUID, TeamID: uint32(teamUID), Rating: 1500}, nil
}

type fakePersister struct {
	nextEncounterID uint64
	created         map[uint32]bool
	finalized       map[uint64]bool
}

func newFakePersister() *fakePersister {
	return &fakePersister{created: map[uint32]bool{}, finalized: map[uint64]bool{}}
}

func (f *fakePersister) CreateInstanceMeta(ctx context.Context, serverID uint32, startTs uint64, instanceID, mapID uint32) (uint64, bool, error) {
	if f.created[instanceID] {
		return 0, false, nil
	}
	f.created[instanceID] = true
	f.nextEncounterID++
	return f.nextEncounterID, true, nil
}

func (f *fakePersister) FinalizeInstanceMeta(ctx context.Context, encounterID uint64, endTs uint64) (bool, error) {
	f.finalized[encounterID] = true
	return true, nil
}

func (f *fakePersister) InsertInstanceRaid(ctx context.Context, encounterID uint64, mapDifficulty uint32) (bool, error) {
	return true, nil
}

func (f *fakePersister) InsertInstanceSkirmish(ctx context.Context, encounterID uint64) (bool, error) {
	return true, nil
}

func (f *fakePersister) InsertInstanceRatedArena(ctx context.Context, encounterID uint64, teamID1, teamID2 uint32) (bool, error) {
	return true, nil
}

func (f *fakePersister) InsertInstanceBattleground(ctx context.Context, encounterID uint64) (bool, error) {
	return true, nil
}

func (f *fakePersister) UpdateSkirmishResult(ctx context.Context, encounterID uint64, winner *uint8) (bool, error) {
	return true, nil
}

func (f *fakePersister) UpdateRatedArenaResult(ctx context.Context, encounterID uint64, winner *uint8, teamChange1, teamChange2 *int32) (bool, error) {
	return true, nil
}

func (f *fakePersister) UpdateBattlegroundResult(ctx context.Context, encounterID uint64, winner *uint8, scoreAlliance, scoreHorde *uint32) (bool, error) {
	return true, nil
}

func (f *fakePersister) UpsertParticipant(ctx context.Context, encounterID uint64, characterID uint32, historyID *uint32) (bool, error) {
	return true, nil
}

type recordingSink struct {
	events []models.Event
}

func (r *recordingSink) OnCommit(encounterID uint64, ev models.Event) {
	r.events = append(r.events, ev)
}

func msg(ts uint64, payload models.MessagePayload) models.Message {
	return models.Message{TimestampMs: ts, Payload: payload}
}

func newTestServer(sink EventSink, persist lifecycle.Persister) *Server {
	return New(1, stubResolver{}, stubArmory{}, persist, sink, zap.NewNop())
}

// S1: a trivial (non-assembled) event commits once a later message arrives.
func TestProcess_TrivialLootCommits(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	// Bind p1 to an encounter first; events of unbound units are dropped.
	// The Position itself commits as the first event.
	s.Process(context.Background(), msg(900, models.Position{Unit: p1, MapID: 409, InstanceID: 7, MapDifficulty: 9}))
	s.Process(context.Background(), msg(1000, models.Loot{Unit: p1, ItemID: 50}))
	s.Process(context.Background(), msg(1100, models.CombatState{Unit: p2, InCombat: true}))

	require.Len(t, sink.events, 2)
	loot, ok := sink.events[1].Kind.(models.EventLoot)
	require.True(t, ok)
	assert.Equal(t, uint32(50), loot.ItemID)
}

// S2: a spell cast with a terminating follow-up assembles into one event.
func TestProcess_SpellAssemblyCommitsOnFollowUp(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	// Bind p1 to an encounter first; the Position commits as event 1.
	s.Process(context.Background(), msg(900, models.Position{Unit: p1, MapID: 409, InstanceID: 7, MapDifficulty: 9}))
	s.Process(context.Background(), msg(1000, models.SpellCast{Caster: p1, SpellID: 133}))
	s.Process(context.Background(), msg(1050, models.SpellDamage{Attacker: p1, Victim: 9, SpellID: 133, Amount: 500}))
	assert.Len(t, sink.events, 1, "follow-up itself must not be a standalone commit")

	s.Process(context.Background(), msg(1050, models.CombatState{Unit: p2, InCombat: true}))
	require.Len(t, sink.events, 2)
}

// S4: entering a raid instance creates an instance_meta row and attributes
// subsequent events to its encounter id.
func TestProcess_RaidEntryCreatesEncounter(t *testing.T) {
	sink := &recordingSink{}
	persist := newFakePersister()
	s := newTestServer(sink, persist)

	s.Process(context.Background(), msg(1000, models.Position{Unit: p1, MapID: 409, InstanceID: 7, MapDifficulty: 9}))
	require.True(t, persist.created[7])

	s.Process(context.Background(), msg(1100, models.Loot{Unit: p1, ItemID: 99}))
	s.Process(context.Background(), msg(1200, models.CombatState{Unit: p2, InCombat: true}))

	// The Position commits first, then the Loot.
	require.Len(t, sink.events, 2)
	assert.Equal(t, uint64(1), sink.events[1].EncounterID)
}

// S5: a reset sweep finalizes an instance once its reset window elapses.
func TestProcess_ResetSweepFinalizesExpiredInstance(t *testing.T) {
	sink := &recordingSink{}
	persist := newFakePersister()
	s := newTestServer(sink, persist)

	s.Process(context.Background(), msg(1000, models.Position{Unit: p1, MapID: 409, InstanceID: 7, MapDifficulty: 9}))
	require.True(t, persist.created[7])

	s.LoadInstanceResets(map[uint32]struct {
		Difficulty  uint32
		ResetTimeMs uint64
	}{
		409: {Difficulty: 9, ResetTimeMs: 5000},
	})

	s.Process(context.Background(), msg(6000, models.CombatState{Unit: p2, InCombat: true}))

	assert.True(t, persist.finalized[1])
}

// Post-processing gauges are sampled on the 5 s cadence, not on every
// message.
func TestProcess_PostProcessingCadence(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	s.Process(context.Background(), msg(0, models.CombatState{Unit: p1, InCombat: true}))
	assert.Equal(t, uint64(postProcessIntervalMs), s.nextPostProcessing)

	s.Process(context.Background(), msg(1000, models.CombatState{Unit: p2, InCombat: true}))
	assert.Equal(t, uint64(postProcessIntervalMs), s.nextPostProcessing, "cadence must not advance before it elapses")

	s.Process(context.Background(), msg(postProcessIntervalMs, models.CombatState{Unit: p1, InCombat: false}))
	assert.Equal(t, uint64(2*postProcessIntervalMs), s.nextPostProcessing)
}

// Coverage item 9: instances restored at startup are visible before the
// first message.
func TestLoadActiveInstances_SeedsBeforeFirstMessage(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	s.LoadActiveInstances([]lifecycle.ActiveInstanceSnapshot{
		{EncounterID: 42, InstanceID: 7, MapID: 409, EnteredMs: 500},
	})

	assert.Equal(t, 1, s.lifecycle.ActiveInstanceCount())
}
