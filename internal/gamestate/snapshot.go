package gamestate

import "strings"

// Snapshot mirrors the JSON the game posts to the local gamestate
// integration endpoint several times a second. Sections the game omits
// decode as nil.
type Snapshot struct {
	Provider *Provider `json:"provider"`
	Player   *Player   `json:"player"`
	Round    *Round    `json:"round"`
	Map      *Map      `json:"map"`
}

// Provider identifies the account the game client is logged into.
type Provider struct {
	SteamID string `json:"steamid"`
}

// Player is the observed player. When spectating, this is not the local
// player; the provider steamid check filters those snapshots out.
type Player struct {
	SteamID    string            `json:"steamid"`
	Team       string            `json:"team"`
	State      *PlayerState      `json:"state"`
	MatchStats *MatchStats       `json:"match_stats"`
	Weapons    map[string]Weapon `json:"weapons"`
}

// PlayerState is the player's live in-round state.
type PlayerState struct {
	Health      int `json:"health"`
	Flashed     int `json:"flashed"`
	RoundKills  int `json:"round_kills"`
	RoundKillHS int `json:"round_killhs"`
}

// MatchStats are the player's cumulative match counters.
type MatchStats struct {
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
	MVPs   int `json:"mvps"`
}

// Weapon is one slot of the player's loadout.
type Weapon struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Round is the current round's phase block.
type Round struct {
	Phase   string `json:"phase"`
	WinTeam string `json:"win_team"`
}

// Map is the match-level block.
type Map struct {
	Phase string `json:"phase"`
	Round int    `json:"round"`
}

// localPlayer reports whether the snapshot describes the local player
// rather than someone being spectated.
func (s *Snapshot) localPlayer() bool {
	return s.Provider != nil && s.Player != nil && s.Provider.SteamID == s.Player.SteamID
}

// knifeActive reports whether the player currently holds a knife.
func (p *Player) knifeActive() bool {
	for _, w := range p.Weapons {
		if w.State == "active" && isKnife(w.Name) {
			return true
		}
	}
	return false
}

func isKnife(name string) bool {
	return strings.Contains(name, "knife") || strings.Contains(name, "bayonet")
}
