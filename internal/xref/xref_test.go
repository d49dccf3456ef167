package xref

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/legacyplayers/lcec/internal/disposition"
	"github.com/legacyplayers/lcec/internal/models"
)

func spellCastEvent(id uint32, ts uint64, subject models.Unit, spellID uint32) models.Event {
	return models.Event{ID: id, TimestampMs: ts, Subject: subject, Kind: models.EventSpellCast{SpellID: spellID}}
}

func auraEvent(id uint32, ts uint64, subject models.Unit, spellID uint32) models.Event {
	return models.Event{ID: id, TimestampMs: ts, Subject: subject, Kind: models.EventAuraApplication{SpellID: spellID}}
}

func TestResolveInterrupt_Commit(t *testing.T) {
	p1 := models.Player{CharacterID: 1}
	committed := []models.Event{spellCastEvent(1, 1000, p1, 133)}

	res, kind := ResolveInterrupt(committed, p1, 133, 1300, 1300)
	assert.Equal(t, disposition.Commit, kind)
	assert.Equal(t, uint32(1), res.CauseEventID)
}

func TestResolveInterrupt_WrongSpellID(t *testing.T) {
	p1 := models.Player{CharacterID: 1}
	committed := []models.Event{spellCastEvent(1, 1000, p1, 133)}

	_, kind := ResolveInterrupt(committed, p1, 999, 1300, 1300)
	assert.Equal(t, disposition.Wait, kind)
}

func TestResolveInterrupt_DiscardFirstAfterWindow(t *testing.T) {
	p1 := models.Player{CharacterID: 1}
	var committed []models.Event

	_, kind := ResolveInterrupt(committed, p1, 133, 1000, 1000+LookbackWindowMs+1)
	assert.Equal(t, disposition.DiscardFirst, kind)
}

func TestResolveInterrupt_WaitBeforeWindowCloses(t *testing.T) {
	p1 := models.Player{CharacterID: 1}
	var committed []models.Event

	_, kind := ResolveInterrupt(committed, p1, 133, 1000, 1500)
	assert.Equal(t, disposition.Wait, kind)
}

func TestResolveDispel_CommitsCauseAndTargets(t *testing.T) {
	dispeller := models.Player{CharacterID: 2}
	target := models.Player{CharacterID: 1}
	committed := []models.Event{
		auraEvent(1, 1000, target, 55),
		spellCastEvent(2, 1100, dispeller, 999),
	}

	res, kind := ResolveDispel(committed, dispeller, target, 55, 1200, 1200)
	assert.Equal(t, disposition.Commit, kind)
	assert.Equal(t, uint32(2), res.CauseEventID)
	assert.Equal(t, []uint32{1}, res.TargetEventIDs)
}

func TestResolveSpellSteal_RequiresExactlyOneTarget(t *testing.T) {
	dispeller := models.Player{CharacterID: 2}
	target := models.Player{CharacterID: 1}
	committed := []models.Event{
		auraEvent(1, 1000, target, 55),
		auraEvent(3, 1050, target, 55),
		spellCastEvent(2, 1100, dispeller, 999),
	}

	res, kind := ResolveSpellSteal(committed, dispeller, target, 55, 1200, 1200)
	assert.Equal(t, disposition.Commit, kind)
	assert.Equal(t, uint32(3), res.TargetEventID, "must pick the most recent aura, not all of them")
}
