package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legacyplayers/lcec/internal/models"
)

type stubOracle struct {
	characters map[uint32]*models.CharacterRecord
}

func (s *stubOracle) LookupCharacter(ctx context.Context, serverID, characterID uint32) (*models.CharacterRecord, error) {
	return s.characters[characterID], nil
}

func (s *stubOracle) LookupArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error) {
	return nil, nil
}

func (s *stubOracle) LookupGuild(ctx context.Context, serverID, guildID uint32) (*models.GuildRecord, error) {
	return nil, nil
}

const playerBit = uint64(1) << 63

func TestResolve_Player(t *testing.T) {
	oracle := &stubOracle{characters: map[uint32]*models.CharacterRecord{
		7: {CharacterID: 7, Name: "Thrall"},
	}}
	r := New(oracle)

	unit, err := r.Resolve(context.Background(), 1, playerBit|7, nil)
	require.NoError(t, err)

	player, ok := unit.(models.Player)
	require.True(t, ok)
	assert.Equal(t, uint32(7), player.CharacterID)
}

func TestResolve_PlayerNotFound(t *testing.T) {
	r := New(&stubOracle{characters: map[uint32]*models.CharacterRecord{}})

	_, err := r.Resolve(context.Background(), 1, playerBit|99, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_SummonAttributesToOwner(t *testing.T) {
	oracle := &stubOracle{characters: map[uint32]*models.CharacterRecord{
		3: {CharacterID: 3, Name: "Jaina"},
	}}
	r := New(oracle)

	owner := playerBit | 3
	pet := uint64(555)
	summons := map[uint64]uint64{owner: pet}

	unit, err := r.Resolve(context.Background(), 1, pet, summons)
	require.NoError(t, err)

	player, ok := unit.(models.Player)
	require.True(t, ok)
	assert.Equal(t, uint32(3), player.CharacterID)
}

func TestResolve_PlainCreature(t *testing.T) {
	r := New(&stubOracle{})

	unit, err := r.Resolve(context.Background(), 1, 0x00000012_34000099, nil)
	require.NoError(t, err)

	creature, ok := unit.(models.Creature)
	require.True(t, ok)
	assert.Equal(t, uint64(0x00000012_34000099), creature.GUID)
}
