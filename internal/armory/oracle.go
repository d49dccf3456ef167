// Package armory provides the read-only lookup oracle the core consults to
// resolve unit GUIDs and team UIDs to armory records. The armory's own
// CRUD of guilds/characters lives in a separate subsystem; this package
// only reads.
package armory

import (
	"context"

	"github.com/legacyplayers/lcec/internal/models"
)

// Oracle is the read-only interface the core's leaf components depend on.
// Implementations may be shared freely across shards: every returned
// record is an owned copy, never an alias into a cache entry.
type Oracle interface {
	LookupCharacter(ctx context.Context, serverID uint32, characterID uint32) (*models.CharacterRecord, error)
	LookupArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error)
	LookupGuild(ctx context.Context, serverID uint32, guildID uint32) (*models.GuildRecord, error)
}
