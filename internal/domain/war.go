package domain

import "time"

// Boundary types for the game's war API. The engine treats these as
// opaque collaborator output; only the fields it consumes are modeled.

type WarAttack struct {
	AttackerTag           string
	DefenderTag           string
	Stars                 int
	DestructionPercentage float64
	Order                 int
}

type WarMemberInfo struct {
	Tag         string
	Name        string
	MapPosition int
	Attacks     []WarAttack
}

type WarClan struct {
	Tag                   string
	Name                  string
	Stars                 int
	DestructionPercentage float64
	Members               []WarMemberInfo
}

// WarInfo is one poll of the clan's current war. StartTime/EndTime are
// nil when the API timestamp was absent or unparsable.
type WarInfo struct {
	State     string
	StartTime *time.Time
	EndTime   *time.Time
	Clan      WarClan
	Opponent  WarClan
}

// WarLogEntry is one settled entry of the clan's public war log.
type WarLogEntry struct {
	Result   string
	EndTime  *time.Time
	Clan     WarClan
	Opponent WarClan
}
