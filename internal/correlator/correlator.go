// Package correlator implements the Event Correlator: a per-subject buffer
// of pending messages, committed against the next arriving message in the
// global stream. It is the single-writer core the shard's message loop
// drives one message at a time.
package correlator

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/assembler"
	"github.com/legacyplayers/lcec/internal/disposition"
	"github.com/legacyplayers/lcec/internal/metrics"
	"github.com/legacyplayers/lcec/internal/models"
	"github.com/legacyplayers/lcec/internal/xref"
)

// PendingGCMs bounds how old a pending buffer's head may get before it is
// evicted outright, upper-bounding memory and preventing indefinite Wait
// stalls.
const PendingGCMs = 10_000

// correlationNamespace is the fixed UUID namespace events are derived
// under, so the same (server_id, encounter_id, event_id) always yields the
// same CorrelationUUID across process restarts — the join key an external
// consumer uses to line up a relational row with its ClickHouse mirror.
var correlationNamespace = uuid.MustParse("8f14e45f-ceea-467e-a893-091bc1527eb5")

// correlationUUID derives a deterministic v5 UUID over (server_id,
// encounter_id, event_id).
func correlationUUID(serverID uint32, encounterID uint64, id uint32) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], serverID)
	binary.BigEndian.PutUint64(b[4:12], encounterID)
	binary.BigEndian.PutUint32(b[12:16], id)
	return uuid.NewSHA1(correlationNamespace, b[:])
}

// UnitResolver resolves a raw GUID to a domain Unit.
type UnitResolver interface {
	Resolve(ctx context.Context, serverID uint32, guid uint64, summons map[uint64]uint64) (models.Unit, error)
}

// EncounterBinder supplies the encounter_id a subject is currently bound
// to. The Instance Lifecycle Manager is the only implementation; the
// Correlator depends on it only through this read.
type EncounterBinder interface {
	EncounterFor(unitGUID uint64) (encounterID uint64, ok bool)
}

// EventSink receives every event the Correlator commits, in commit order,
// immediately after it is appended to the in-memory log. Implementations
// must not block the writer for long; persistence should buffer or retry
// on its own.
type EventSink interface {
	OnCommit(encounterID uint64, ev models.Event)
}

// Correlator owns pending, committed, next_event_id, and summons for one
// server shard.
type Correlator struct {
	serverID uint32
	resolver UnitResolver
	binder   EncounterBinder
	sink     EventSink
	logger   *zap.SugaredLogger

	mu        sync.RWMutex
	committed map[uint64][]models.Event
	nextID    map[uint64]uint32

	pending map[uint64][]models.Message
	order   []uint64

	summons map[uint64]uint64
}

func New(serverID uint32, resolver UnitResolver, binder EncounterBinder, sink EventSink, logger *zap.Logger) *Correlator {
	return &Correlator{
		serverID:  serverID,
		resolver:  resolver,
		binder:    binder,
		sink:      sink,
		logger:    logger.Sugar().With("server_id", serverID),
		committed: make(map[uint64][]models.Event),
		nextID:    make(map[uint64]uint32),
		pending:   make(map[uint64][]models.Message),
		summons:   make(map[uint64]uint64),
	}
}

// Summons exposes the owner->summoned map; the shard's extract_meta step
// and the Instance Lifecycle Manager both need to read and write it.
func (c *Correlator) Summons() map[uint64]uint64 { return c.summons }

// Committed returns a defensive copy of an encounter's committed events,
// safe for a concurrent reader to retain.
func (c *Correlator) Committed(encounterID uint64) []models.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.committed[encounterID]
	out := make([]models.Event, len(src))
	copy(out, src)
	return out
}

// PushPending appends m into the buffer keyed by its subject. Messages with
// no subject (InstancePvPStart/End) never enter a buffer.
func (c *Correlator) PushPending(m models.Message) {
	subject, ok := m.Payload.SubjectID()
	if !ok {
		return
	}
	if _, exists := c.pending[subject]; !exists {
		c.order = append(c.order, subject)
	}
	c.pending[subject] = append(c.pending[subject], m)
}

// TestCommittable evaluates every pending buffer against next, the message
// currently driving the loop, applying whichever of the four dispositions
// commit_event returns. next's own timestamp also serves as "now" for
// cross-reference lookback-window elapsed checks.
func (c *Correlator) TestCommittable(ctx context.Context, next models.Message) {
	now := next.TimestampMs
	drainedAny := false
	for _, subject := range c.order {
		buf := c.pending[subject]
		if len(buf) == 0 {
			continue
		}

		kind, ev := c.commitEvent(ctx, subject, buf, next, now)
		switch kind {
		case disposition.Commit:
			drainAll := isSpellFamilyBuffer(buf)
			c.emit(subject, ev)
			if drainAll {
				delete(c.pending, subject)
				drainedAny = true
			} else {
				c.popHead(subject)
			}
		case disposition.DiscardAll:
			delete(c.pending, subject)
			drainedAny = true
			metrics.DiscardObserved(c.serverID, metrics.DiscardAll)
		case disposition.DiscardFirst:
			c.popHead(subject)
			metrics.DiscardObserved(c.serverID, metrics.DiscardFirst)
		case disposition.Wait:
		}
	}
	if drainedAny {
		c.compactOrder()
	}
}

// PendingBufferCount reports how many per-subject buffers are currently
// held, for the post-processing observability tick.
func (c *Correlator) PendingBufferCount() int {
	return len(c.pending)
}

func isSpellFamilyBuffer(buf []models.Message) bool {
	return len(buf) > 0 && assembler.IsSpellFamilyHead(buf[0])
}

func (c *Correlator) popHead(subject uint64) {
	buf := c.pending[subject]
	if len(buf) <= 1 {
		delete(c.pending, subject)
		return
	}
	c.pending[subject] = buf[1:]
}

func (c *Correlator) compactOrder() {
	kept := c.order[:0]
	for _, subject := range c.order {
		if _, exists := c.pending[subject]; exists {
			kept = append(kept, subject)
		}
	}
	c.order = kept
}

// Cleanup evicts any pending buffer whose head timestamp is more than
// PendingGCMs older than now.
func (c *Correlator) Cleanup(now uint64) {
	changed := false
	evicted := 0
	for subject, buf := range c.pending {
		if len(buf) == 0 {
			continue
		}
		if buf[0].TimestampMs+PendingGCMs < now {
			delete(c.pending, subject)
			changed = true
			evicted++
		}
	}
	if changed {
		c.compactOrder()
	}
	if evicted > 0 {
		metrics.PendingBufferGCObserved(c.serverID, evicted)
	}
}

// emit appends ev into committed[encounterID] only if subjectGUID is
// currently bound to an active instance; otherwise the event is silently
// dropped as pre-encounter noise. subjectGUID is the raw GUID the buffer
// was keyed by, kept separate from the resolved Unit carried on ev since
// a resolved Player no longer carries its source GUID.
func (c *Correlator) emit(subjectGUID uint64, ev *models.Event) {
	if ev == nil {
		return
	}
	encounterID, bound := c.binder.EncounterFor(subjectGUID)
	if !bound {
		return
	}

	c.mu.Lock()
	id := c.nextID[encounterID] + 1
	c.nextID[encounterID] = id
	ev.ID = id
	ev.EncounterID = encounterID
	ev.CorrelationUUID = correlationUUID(c.serverID, encounterID, id)
	c.committed[encounterID] = append(c.committed[encounterID], *ev)
	c.mu.Unlock()

	metrics.CommitObserved(c.serverID)
	if c.sink != nil {
		c.sink.OnCommit(encounterID, *ev)
	}
}

// commitEvent implements the dispatch table: single-message
// kinds resolve and commit immediately (DiscardFirst on resolution
// failure); the spell family defers to the Spell Assembler and fails
// DiscardAll on resolution failure; Interrupt/Dispel/SpellSteal defer to
// the Cross-Reference Resolver against the encounter's committed log.
func (c *Correlator) commitEvent(ctx context.Context, subject uint64, buf []models.Message, next models.Message, now uint64) (disposition.Kind, *models.Event) {
	head := buf[0]

	switch p := head.Payload.(type) {
	case models.CombatState:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventCombatState{InCombat: p.InCombat})

	case models.Loot:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventLoot{ItemID: p.ItemID})

	case models.Position:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventPosition{
			MapID: p.MapID, InstanceID: p.InstanceID, MapDifficulty: p.MapDifficulty,
			X: p.X, Y: p.Y, Z: p.Z, Orientation: p.Orientation,
		})

	case models.Power:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventPower{
			Type: p.Type, Current: p.Current, Max: p.Max,
		})

	case models.AuraApplication:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventAuraApplication{
			Caster: p.Caster, SpellID: p.SpellID, StackAmount: p.StackAmount,
		})

	case models.Death:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventDeath{MurderEventID: nil})

	case models.Summon:
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventSummon{Summoned: p.Unit})

	case models.UnitEvent:
		if p.EventType != models.ThreatWipe {
			return disposition.DiscardFirst, nil
		}
		unit, err := c.resolve(ctx, subject)
		if err != nil {
			return disposition.DiscardFirst, nil
		}
		if _, ok := unit.(models.Creature); !ok {
			return disposition.DiscardFirst, nil
		}
		return disposition.Commit, newEvent(head.TimestampMs, unit, models.EventThreatWipe{})

	case models.SpellCast, models.MeleeDamage, models.SpellDamage, models.Heal, models.Threat:
		return c.commitSpellFamily(ctx, subject, buf, next)

	case models.Interrupt:
		return c.commitInterrupt(ctx, subject, head.TimestampMs, p, now)

	case models.Dispel:
		return c.commitDispel(ctx, subject, head.TimestampMs, p, now)

	case models.SpellSteal:
		return c.commitSpellSteal(ctx, subject, head.TimestampMs, p, now)

	default:
		return disposition.DiscardFirst, nil
	}
}

func (c *Correlator) resolve(ctx context.Context, subjectGUID uint64) (models.Unit, error) {
	return c.resolver.Resolve(ctx, c.serverID, subjectGUID, c.summons)
}

func newEvent(ts uint64, subject models.Unit, kind models.EventKind) *models.Event {
	return &models.Event{TimestampMs: ts, Subject: subject, Kind: kind}
}

func (c *Correlator) commitSpellFamily(ctx context.Context, subject uint64, buf []models.Message, next models.Message) (disposition.Kind, *models.Event) {
	head := buf[0]
	if !assembler.ShouldTerminate(head, next) {
		return disposition.Wait, nil
	}

	unit, err := c.resolve(ctx, subject)
	if err != nil {
		return disposition.DiscardAll, nil
	}

	cast := assembler.Assemble(buf)
	return disposition.Commit, newEvent(head.TimestampMs, unit, cast)
}

func (c *Correlator) commitInterrupt(ctx context.Context, subject uint64, ts uint64, p models.Interrupt, now uint64) (disposition.Kind, *models.Event) {
	encounterID, bound := c.binder.EncounterFor(subject)
	if !bound {
		return disposition.Wait, nil
	}
	target, err := c.resolve(ctx, subject)
	if err != nil {
		return disposition.DiscardFirst, nil
	}

	res, kind := xref.ResolveInterrupt(c.Committed(encounterID), target, p.InterruptedSpellID, ts, now)
	if kind != disposition.Commit {
		return kind, nil
	}
	return disposition.Commit, newEvent(ts, target, models.EventInterrupt{
		CauseEventID: res.CauseEventID, InterruptedSpellID: p.InterruptedSpellID,
	})
}

func (c *Correlator) commitDispel(ctx context.Context, subject uint64, ts uint64, p models.Dispel, now uint64) (disposition.Kind, *models.Event) {
	encounterID, bound := c.binder.EncounterFor(subject)
	if !bound {
		return disposition.Wait, nil
	}
	dispeller, err := c.resolve(ctx, subject)
	if err != nil {
		return disposition.DiscardFirst, nil
	}
	target, err := c.resolve(ctx, p.Target)
	if err != nil {
		return disposition.DiscardFirst, nil
	}

	res, kind := xref.ResolveDispel(c.Committed(encounterID), dispeller, target, p.DispelledSpellID, ts, now)
	if kind != disposition.Commit {
		return kind, nil
	}
	return disposition.Commit, newEvent(ts, dispeller, models.EventDispel{
		CauseEventID: res.CauseEventID, TargetEventIDs: res.TargetEventIDs,
	})
}

func (c *Correlator) commitSpellSteal(ctx context.Context, subject uint64, ts uint64, p models.SpellSteal, now uint64) (disposition.Kind, *models.Event) {
	encounterID, bound := c.binder.EncounterFor(subject)
	if !bound {
		return disposition.Wait, nil
	}
	dispeller, err := c.resolve(ctx, subject)
	if err != nil {
		return disposition.DiscardFirst, nil
	}
	target, err := c.resolve(ctx, p.Target)
	if err != nil {
		return disposition.DiscardFirst, nil
	}

	res, kind := xref.ResolveSpellSteal(c.Committed(encounterID), dispeller, target, p.SpellID, ts, now)
	if kind != disposition.Commit {
		return kind, nil
	}
	return disposition.Commit, newEvent(ts, dispeller, models.EventSpellSteal{
		CauseEventID: res.CauseEventID, TargetEventID: res.TargetEventID,
	})
}
