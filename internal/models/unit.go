package models

// Unit is the resolved, owned form of a raw GUID: either a player backed by
// an armory character record, or a creature identified by its spawn entry.
// Values are copied into events; nothing here is shared mutable state.
type Unit interface {
	unit()
}

// Player is a player-controlled unit, or a summon (pet/totem) attributed
// back to its owning player per the summons table.
type Player struct {
	CharacterID            uint32
	HistoryID              *uint32
	IsOwnerPlayerControlled bool
}

func (Player) unit() {}

// Creature is any non-player unit: a mob, a boss, a vehicle.
type Creature struct {
	Entry uint32
	GUID  uint64
}

func (Creature) unit() {}

// playerGUIDBit marks the high bit the resolver uses to distinguish player
// GUIDs from creature GUIDs in the raw descriptor space.
const playerGUIDBit = uint64(1) << 63

// IsPlayerGUID reports whether the high bit marking a player GUID is set.
func IsPlayerGUID(guid uint64) bool {
	return guid&playerGUIDBit != 0
}

// CharacterIDFromGUID extracts the low 32 bits of a player GUID.
func CharacterIDFromGUID(guid uint64) uint32 {
	return uint32(guid)
}

// EntryFromGUID extracts the creature spawn entry from a non-player GUID:
// the original protocol packs it into the next 24 bits above the low
// per-spawn counter.
func EntryFromGUID(guid uint64) uint32 {
	return uint32((guid >> 24) & 0xFFFFFF)
}
