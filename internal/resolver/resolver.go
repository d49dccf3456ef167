// Package resolver implements the Unit Resolver: mapping a raw GUID (plus
// the summons table) to a typed models.Unit.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/legacyplayers/lcec/internal/armory"
	"github.com/legacyplayers/lcec/internal/models"
)

// ErrNotFound is returned when a GUID's high bit marks it a player but the
// armory has no character record for it. The only other failure is an
// armory lookup error, returned wrapped; a non-player GUID always resolves.
var ErrNotFound = errors.New("unit resolver: character not found in armory")

// Resolver resolves raw GUIDs against the armory oracle and an in-memory
// summons table (owner GUID -> summoned GUID) maintained by the correlator.
type Resolver struct {
	oracle armory.Oracle
}

func New(oracle armory.Oracle) *Resolver {
	return &Resolver{oracle: oracle}
}

// Resolve implements the three-step resolution:
//  1. player GUID -> Player via armory lookup (fails with ErrNotFound)
//  2. non-player GUID that is some player's summon -> that player
//  3. otherwise -> Creature, which never fails
//
// summons maps owner GUID -> summoned GUID, as populated by Summon
// messages; it is searched by value since the resolver is asked to resolve
// the summoned GUID, not the owner's.
func (r *Resolver) Resolve(ctx context.Context, serverID uint32, guid uint64, summons map[uint64]uint64) (models.Unit, error) {
	if models.IsPlayerGUID(guid) {
		characterID := models.CharacterIDFromGUID(guid)
		rec, err := r.oracle.LookupCharacter(ctx, serverID, characterID)
		if err != nil {
			return nil, fmt.Errorf("resolve player %d: %w", guid, err)
		}
		if rec == nil {
			return nil, ErrNotFound
		}
		return models.Player{
			CharacterID:             rec.CharacterID,
			HistoryID:               rec.LastHistoryID,
			IsOwnerPlayerControlled: true,
		}, nil
	}

	if owner, ok := findOwner(summons, guid); ok {
		return r.Resolve(ctx, serverID, owner, summons)
	}

	return models.Creature{
		Entry: models.EntryFromGUID(guid),
		GUID:  guid,
	}, nil
}

// findOwner searches summons (owner -> summoned) by value, since pets and
// totems attribute their events back to the owning player.
func findOwner(summons map[uint64]uint64, summoned uint64) (uint64, bool) {
	for owner, unit := range summons {
		if unit == summoned {
			return owner, true
		}
	}
	return 0, false
}
