package models

// CharacterRecord is the armory's view of a player character, as returned
// by the read-only oracle.
type CharacterRecord struct {
	CharacterID    uint32
	ServerID       uint32
	Name           string
	GuildID        *uint32
	LastHistoryID  *uint32
}

// ArenaTeamRecord is the armory's view of an arena team.
type ArenaTeamRecord struct {
	TeamUID  uint64
	ServerID uint32
	TeamID   uint32
	Name     string
	Rating   uint32
}

// GuildRecord is the armory's view of a guild.
type GuildRecord struct {
	GuildID  uint32
	ServerID uint32
	Name     string
}
