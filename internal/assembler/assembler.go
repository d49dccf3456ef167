// Package assembler implements the Spell Assembler: collapsing a run of
// same-caster cast/damage/heal/threat messages into one committed
// SpellCast event.
package assembler

import "github.com/legacyplayers/lcec/internal/models"

// WindowMs is the assembly window: follow-up messages within this many
// milliseconds of the head timestamp contribute to the same SpellCast.
const WindowMs = 400

// isSpellFamily reports whether p is one of the closed set of message
// payloads that can start a pending spell-assembly buffer.
func isSpellFamily(p models.MessagePayload) bool {
	switch p.(type) {
	case models.SpellCast, models.MeleeDamage, models.SpellDamage, models.Heal, models.Threat:
		return true
	default:
		return false
	}
}

// IsSpellFamilyHead reports whether msg can start a spell-assembly buffer.
func IsSpellFamilyHead(msg models.Message) bool {
	return isSpellFamily(msg.Payload)
}

// ShouldTerminate implements the three termination conditions: the
// next arriving message (a) falls outside the 400ms window measured from
// the head, (b) belongs to a different caster, or (c) is itself a new
// SpellCast from the same caster.
func ShouldTerminate(head models.Message, next models.Message) bool {
	headSubject, headOK := head.Payload.SubjectID()
	nextSubject, nextOK := next.Payload.SubjectID()

	if !nextOK || !headOK || nextSubject != headSubject {
		return true
	}
	if next.TimestampMs > head.TimestampMs+WindowMs {
		return true
	}
	if _, ok := next.Payload.(models.SpellCast); ok {
		return true
	}
	return false
}

// Assemble aggregates a completed buffer into a single EventSpellCast. The
// buffer's head may be an explicit SpellCast or an implicit one (a bare
// damage/heal/threat message with no preceding cast).
func Assemble(buffer []models.Message) models.EventSpellCast {
	out := models.EventSpellCast{}

	head := buffer[0]
	switch p := head.Payload.(type) {
	case models.SpellCast:
		out.SpellID = p.SpellID
		out.Target = p.Target
	case models.SpellDamage:
		out.SpellID = p.SpellID
	case models.Heal:
		out.SpellID = p.SpellID
	case models.Threat:
		if p.SpellID != nil {
			out.SpellID = *p.SpellID
		}
	case models.MeleeDamage:
		out.SpellID = 0
	}

	var hitMask uint32
	var heal *models.HealComponent
	var threat *models.ThreatComponent

	for _, msg := range buffer {
		switch p := msg.Payload.(type) {
		case models.MeleeDamage:
			out.Damages = append(out.Damages, models.DamageComponent{
				Target: p.Victim, Amount: p.Amount, Result: p.Result, Absorbed: p.Absorbed,
			})
			hitMask |= 1 << uint(p.Result)
		case models.SpellDamage:
			out.Damages = append(out.Damages, models.DamageComponent{
				Target: p.Victim, Amount: p.Amount, Result: p.Result, Absorbed: p.Absorbed,
			})
			hitMask |= 1 << uint(p.Result)
		case models.Heal:
			if heal == nil {
				heal = &models.HealComponent{Target: p.Target}
			}
			heal.Amount += p.Amount
			heal.Overheal += p.Overheal
			heal.Absorb += p.Absorb
		case models.Threat:
			if threat == nil {
				threat = &models.ThreatComponent{Target: p.Target}
			}
			threat.Amount += p.Amount
		}
	}

	out.HitMask = hitMask
	out.Heal = heal
	out.Threat = threat
	return out
}
