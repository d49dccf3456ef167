package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/legacyplayers/lcec/internal/models"
)

// SubjectKind names the two closed Unit variants for storage, independent of
// the Go type name so the column survives refactors of the models package.
const (
	SubjectKindPlayer   = "player"
	SubjectKindCreature = "creature"
)

// SubjectRef splits a resolved Unit into a storable (kind, ref) pair: ref is
// the character id for a player, the GUID for a creature.
func SubjectRef(u models.Unit) (kind string, ref uint64) {
	switch s := u.(type) {
	case models.Player:
		return SubjectKindPlayer, uint64(s.CharacterID)
	case models.Creature:
		return SubjectKindCreature, s.GUID
	default:
		return "unknown", 0
	}
}

// EncodePayload marshals an EventKind's fields to a flat JSON object; the
// kind's Name() is not part of it and is stored in its own column.
// Both the relational events table and the ClickHouse mirror use this so a
// new EventKind variant needs no schema migration on either side.
func EncodePayload(kind models.EventKind) ([]byte, error) {
	b, err := json.Marshal(kind)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind.Name(), err)
	}
	return b, nil
}

// InsertEvent implements insert_event: the caller supplies the
// id (the Correlator assigns it per-encounter before calling the sink), the
// adapter only appends.
func (a *Adapter) InsertEvent(ctx context.Context, ev models.Event) (bool, error) {
	payload, err := EncodePayload(ev.Kind)
	if err != nil {
		return false, err
	}
	subjectKind, subjectRef := SubjectRef(ev.Subject)

	return a.execOK(ctx, `
		INSERT INTO events (id, encounter_id, timestamp_ms, subject_kind, subject_ref, event_kind, payload, correlation_uuid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (encounter_id, id) DO NOTHING`,
		ev.ID, ev.EncounterID, ev.TimestampMs, subjectKind, subjectRef, ev.Kind.Name(), payload, ev.CorrelationUUID)
}
