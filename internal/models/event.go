package models

import "github.com/google/uuid"

// Event is a committed, encounter-scoped combat event. ID is monotonic per
// encounter starting at 1 and strictly increasing in insertion order — not
// necessarily in timestamp order, since late spell assembly can commit an
// older-timestamped event after newer ones.
type Event struct {
	ID              uint32
	EncounterID     uint64
	TimestampMs     uint64
	Subject         Unit
	Kind            EventKind
	CorrelationUUID uuid.UUID
}

// EventKind is the closed set of committed event shapes. It mirrors the
// inbound message variants after spell assembly and cross-reference
// resolution, so most kinds are a thin, already-correlated copy of a
// message payload.
type EventKind interface {
	eventKind()
	Name() string
}

// DamageComponent is one target's contribution to an assembled SpellCast.
type DamageComponent struct {
	Target   uint64
	Amount   uint32
	Result   HitResult
	Absorbed uint32
}

// HealComponent is an assembled SpellCast's heal contribution, if any.
type HealComponent struct {
	Target   uint64
	Amount   uint32
	Overheal uint32
	Absorb   uint32
}

// ThreatComponent is an assembled SpellCast's threat contribution, if any.
type ThreatComponent struct {
	Target uint64
	Amount int64
}

type EventSpellCast struct {
	SpellID  uint32
	Target   *uint64
	HitMask  uint32
	Damages  []DamageComponent
	Heal     *HealComponent
	Threat   *ThreatComponent
}

func (EventSpellCast) eventKind()     {}
func (EventSpellCast) Name() string   { return "spell_cast" }

type EventInterrupt struct {
	CauseEventID       uint32
	InterruptedSpellID uint32
}

func (EventInterrupt) eventKind()   {}
func (EventInterrupt) Name() string { return "interrupt" }

type EventDispel struct {
	CauseEventID   uint32
	TargetEventIDs []uint32
}

func (EventDispel) eventKind()   {}
func (EventDispel) Name() string { return "dispel" }

type EventSpellSteal struct {
	CauseEventID  uint32
	TargetEventID uint32
}

func (EventSpellSteal) eventKind()   {}
func (EventSpellSteal) Name() string { return "spell_steal" }

type EventCombatState struct {
	InCombat bool
}

func (EventCombatState) eventKind()   {}
func (EventCombatState) Name() string { return "combat_state" }

type EventLoot struct {
	ItemID uint32
}

func (EventLoot) eventKind()   {}
func (EventLoot) Name() string { return "loot" }

type EventPosition struct {
	MapID         uint32
	InstanceID    uint32
	MapDifficulty uint32
	X, Y, Z       float32
	Orientation   float32
}

func (EventPosition) eventKind()   {}
func (EventPosition) Name() string { return "position" }

type EventPower struct {
	Type    PowerType
	Current uint32
	Max     uint32
}

func (EventPower) eventKind()   {}
func (EventPower) Name() string { return "power" }

type EventAuraApplication struct {
	Caster      uint64
	SpellID     uint32
	StackAmount uint32
}

func (EventAuraApplication) eventKind()   {}
func (EventAuraApplication) Name() string { return "aura_application" }

type EventDeath struct {
	// MurderEventID references the causing event of a death. The Correlator
	// does not attribute deaths, so it is always nil on committed events.
	MurderEventID *uint32
}

func (EventDeath) eventKind()   {}
func (EventDeath) Name() string { return "death" }

type EventSummon struct {
	Summoned uint64
}

func (EventSummon) eventKind()   {}
func (EventSummon) Name() string { return "summon" }

type EventThreatWipe struct{}

func (EventThreatWipe) eventKind()   {}
func (EventThreatWipe) Name() string { return "threat_wipe" }
