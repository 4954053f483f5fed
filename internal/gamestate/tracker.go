// Package gamestate turns the game's telemetry snapshots into discrete
// game events by diffing consecutive snapshots, and answers the "is the
// local player alive" query the transfer-suspend policy relies on.
package gamestate

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
)

// EventFunc receives each derived event together with the actor's
// current round kill streak and the round number.
type EventFunc func(event events.Type, killCount int32, round int32)

// flashThreshold is the flash amount (0-255) above which the player is
// considered properly blinded rather than grazed.
const flashThreshold = 200

// Tracker diffs snapshots. Safe for concurrent use: the HTTP listener
// updates it while the sync client queries it.
type Tracker struct {
	emit             EventFunc
	headshotPriority bool

	mu      sync.Mutex
	seen    bool
	inMatch bool
	alive   bool
	steamID int64
	round   int
	phase   string
	mapPh   string

	mvps       int
	kills      int
	deaths     int
	roundKills int
	headshots  int
	flashed    int
}

// NewTracker builds a tracker. headshotPriority prefers the headshot
// sound over killstreak sounds when a streak kill is also a headshot.
func NewTracker(headshotPriority bool, emit EventFunc) *Tracker {
	if emit == nil {
		emit = func(events.Type, int32, int32) {}
	}
	return &Tracker{emit: emit, headshotPriority: headshotPriority}
}

// IsAlive reports whether the local player is alive in a live round.
func (t *Tracker) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// SteamID returns the local player's id, or 0 before the first local
// snapshot.
func (t *Tracker) SteamID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.steamID
}

// Status renders the one-line match status shown in the UI.
func (t *Tracker) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		return "Waiting for CS:GO..."
	}
	if !t.inMatch {
		return "Not in a match."
	}
	if t.phase == "" || t.phase == "unknown" {
		return fmt.Sprintf("Round %d", t.round)
	}
	return fmt.Sprintf("Round %d (%s)", t.round, t.phase)
}

// Update ingests one snapshot, emitting zero or more events derived
// from the diff against the previous one. Snapshots of spectated
// players refresh nothing but the "not in a match" state.
func (t *Tracker) Update(snap *Snapshot) {
	t.mu.Lock()
	derived := t.diffLocked(snap)
	round := int32(t.round)
	killCount := int32(t.roundKills)
	t.mu.Unlock()

	// Emit outside the lock; handlers may call back into the tracker.
	for _, ev := range derived {
		log.Debug().Stringer("event", ev).Int32("round", round).Msg("game event")
		t.emit(ev, killCount, round)
	}
}

func (t *Tracker) diffLocked(snap *Snapshot) []events.Type {
	t.seen = true

	if snap == nil || !snap.localPlayer() {
		t.inMatch = false
		t.alive = false
		return nil
	}

	first := !t.inMatch
	t.inMatch = true
	if id, err := strconv.ParseInt(snap.Provider.SteamID, 10, 64); err == nil {
		t.steamID = id
	}

	var out []events.Type

	if snap.Map != nil {
		t.round = snap.Map.Round
		if !first && snap.Map.Phase != t.mapPh && isTimeout(snap.Map.Phase) {
			out = append(out, events.Timeout)
		}
		t.mapPh = snap.Map.Phase
	}

	phase := ""
	if snap.Round != nil {
		phase = snap.Round.Phase
	}
	if !first && phase != t.phase {
		switch phase {
		case "freezetime":
			out = append(out, events.RoundStart)
		case "over":
			if snap.Round != nil && snap.Round.WinTeam != "" {
				if snap.Round.WinTeam == snap.Player.Team {
					out = append(out, events.RoundWin)
				} else {
					out = append(out, events.RoundLose)
				}
			}
		}
	}
	t.phase = phase

	if stats := snap.Player.MatchStats; stats != nil {
		if !first {
			out = append(out, t.diffStats(snap, stats)...)
		}
		t.mvps = stats.MVPs
		t.kills = stats.Kills
		t.deaths = stats.Deaths
	}

	if state := snap.Player.State; state != nil {
		if !first {
			out = append(out, t.diffLiveState(snap, state)...)
		}
		t.roundKills = state.RoundKills
		t.headshots = state.RoundKillHS
		t.flashed = state.Flashed
		t.alive = state.Health > 0 && phase == "live"
	} else {
		t.alive = false
	}

	return out
}

func (t *Tracker) diffStats(snap *Snapshot, stats *MatchStats) []events.Type {
	var out []events.Type

	if stats.MVPs > t.mvps {
		out = append(out, events.MVP)
	}

	killsDelta := stats.Kills - t.kills
	deathsDelta := stats.Deaths - t.deaths
	switch {
	case killsDelta < 0 && deathsDelta > 0:
		// The game docks a kill for killing yourself.
		out = append(out, events.Suicide)
	case killsDelta < 0:
		out = append(out, events.Teamkill)
	case deathsDelta > 0:
		out = append(out, events.Death)
	}

	return out
}

func (t *Tracker) diffLiveState(snap *Snapshot, state *PlayerState) []events.Type {
	var out []events.Type

	killDelta := state.RoundKills - t.roundKills
	hsDelta := state.RoundKillHS - t.headshots

	switch {
	case killDelta >= 2:
		out = append(out, events.Collateral)
	case killDelta == 1:
		switch {
		case snap.Player.knifeActive():
			out = append(out, events.Knife)
		case hsDelta > 0 && (t.headshotPriority || state.RoundKills < 2):
			out = append(out, events.Headshot)
		default:
			out = append(out, events.Kill)
		}
	}

	if state.Flashed >= flashThreshold && t.flashed < flashThreshold {
		out = append(out, events.Flash)
	}

	return out
}

func isTimeout(mapPhase string) bool {
	return strings.HasPrefix(mapPhase, "timeout")
}
