// Package xref implements the Cross-Reference Resolver: for
// Interrupt/Dispel/SpellSteal messages, it searches an encounter's already
// committed events for the cause and, for Dispel, the matching aura
// applications.
package xref

import (
	"github.com/legacyplayers/lcec/internal/disposition"
	"github.com/legacyplayers/lcec/internal/models"
)

// LookbackWindowMs bounds how far back a cross-reference may match, and how
// long a cross-reference message may wait before giving up.
const LookbackWindowMs = 10_000

// InterruptResult is ResolveInterrupt's successful outcome.
type InterruptResult struct {
	CauseEventID uint32
}

// ResolveInterrupt locates the most recent SpellCast event in committed
// (assumed to be one encounter's log, in commit order) whose caster is
// target (already resolved by the Unit Resolver) and whose spell_id equals
// interruptedSpellID, within LookbackWindowMs of msgTimestampMs (the
// Interrupt message's own timestamp). nowMs is the timestamp of the
// message currently driving evaluation, used only
// to decide whether the lookback window has fully closed with nothing
// found.
func ResolveInterrupt(committed []models.Event, target models.Unit, interruptedSpellID uint32, msgTimestampMs, nowMs uint64) (InterruptResult, disposition.Kind) {
	for i := len(committed) - 1; i >= 0; i-- {
		ev := committed[i]
		cast, ok := ev.Kind.(models.EventSpellCast)
		if !ok || cast.SpellID != interruptedSpellID {
			continue
		}
		if !sameUnit(ev.Subject, target) {
			continue
		}
		if withinLookback(ev.TimestampMs, msgTimestampMs) {
			return InterruptResult{CauseEventID: ev.ID}, disposition.Commit
		}
	}
	if elapsed(msgTimestampMs, nowMs) {
		return InterruptResult{}, disposition.DiscardFirst
	}
	return InterruptResult{}, disposition.Wait
}

// DispelResult is ResolveDispel's successful outcome.
type DispelResult struct {
	CauseEventID   uint32
	TargetEventIDs []uint32
}

// ResolveDispel locates, within LookbackWindowMs of msgTimestampMs, every
// AuraApplication event on target whose spell_id equals dispelledSpellID,
// and the most recent SpellCast by dispeller as the cause. At least one
// target aura is required.
func ResolveDispel(committed []models.Event, dispeller, target models.Unit, dispelledSpellID uint32, msgTimestampMs, nowMs uint64) (DispelResult, disposition.Kind) {
	return resolveAuraCrossRef(committed, dispeller, target, dispelledSpellID, msgTimestampMs, nowMs, false)
}

// SpellStealResult is ResolveSpellSteal's successful outcome.
type SpellStealResult struct {
	CauseEventID  uint32
	TargetEventID uint32
}

// ResolveSpellSteal is ResolveDispel's exactly-one-target sibling.
func ResolveSpellSteal(committed []models.Event, dispeller, target models.Unit, spellID uint32, msgTimestampMs, nowMs uint64) (SpellStealResult, disposition.Kind) {
	res, kind := resolveAuraCrossRef(committed, dispeller, target, spellID, msgTimestampMs, nowMs, true)
	if kind != disposition.Commit {
		return SpellStealResult{}, kind
	}
	return SpellStealResult{CauseEventID: res.CauseEventID, TargetEventID: res.TargetEventIDs[0]}, disposition.Commit
}

func resolveAuraCrossRef(committed []models.Event, dispeller, target models.Unit, spellID uint32, msgTimestampMs, nowMs uint64, exactlyOne bool) (DispelResult, disposition.Kind) {
	var targets []uint32
	for i := len(committed) - 1; i >= 0; i-- {
		ev := committed[i]
		aura, ok := ev.Kind.(models.EventAuraApplication)
		if !ok || aura.SpellID != spellID {
			continue
		}
		if !sameUnit(ev.Subject, target) {
			continue
		}
		if !withinLookback(ev.TimestampMs, msgTimestampMs) {
			continue
		}
		targets = append(targets, ev.ID)
		if exactlyOne {
			break
		}
	}

	if len(targets) == 0 {
		if elapsed(msgTimestampMs, nowMs) {
			return DispelResult{}, disposition.DiscardFirst
		}
		return DispelResult{}, disposition.Wait
	}

	causeEventID, found := mostRecentSpellCastBy(committed, dispeller, msgTimestampMs)
	if !found {
		if elapsed(msgTimestampMs, nowMs) {
			return DispelResult{}, disposition.DiscardFirst
		}
		return DispelResult{}, disposition.Wait
	}

	return DispelResult{CauseEventID: causeEventID, TargetEventIDs: targets}, disposition.Commit
}

func mostRecentSpellCastBy(committed []models.Event, caster models.Unit, msgTimestampMs uint64) (uint32, bool) {
	for i := len(committed) - 1; i >= 0; i-- {
		ev := committed[i]
		if _, ok := ev.Kind.(models.EventSpellCast); !ok {
			continue
		}
		if !sameUnit(ev.Subject, caster) {
			continue
		}
		if !withinLookback(ev.TimestampMs, msgTimestampMs) {
			continue
		}
		return ev.ID, true
	}
	return 0, false
}

// sameUnit compares two resolved units by identity: same character for
// players, same GUID for creatures (a creature's entry alone doesn't
// distinguish individual spawns).
func sameUnit(a, b models.Unit) bool {
	switch av := a.(type) {
	case models.Player:
		bv, ok := b.(models.Player)
		return ok && av.CharacterID == bv.CharacterID
	case models.Creature:
		bv, ok := b.(models.Creature)
		return ok && av.GUID == bv.GUID
	default:
		return false
	}
}

func withinLookback(eventTimestampMs, refTimestampMs uint64) bool {
	var delta uint64
	if refTimestampMs >= eventTimestampMs {
		delta = refTimestampMs - eventTimestampMs
	} else {
		delta = eventTimestampMs - refTimestampMs
	}
	return delta <= LookbackWindowMs
}

// elapsed reports whether the lookback window anchored at msgTimestampMs
// has fully closed as of nowMs, meaning no future committed event could
// still land inside the window.
func elapsed(msgTimestampMs, nowMs uint64) bool {
	if nowMs <= msgTimestampMs {
		return false
	}
	return nowMs-msgTimestampMs > LookbackWindowMs
}
