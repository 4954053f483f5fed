// Package events classifies game events into propagation classes.
//
// Classification is a pure function of the event type and the actor's
// current kill streak; it carries no state so both the client and the
// server can apply it and agree on the audience of a sound.
package events

// Type identifies a discrete game event. Wire values are fixed and must
// never be reordered.
type Type int32

const (
	MVP Type = iota
	RoundWin
	RoundLose
	Suicide
	Teamkill
	Death
	Flash
	Knife
	Headshot
	Kill
	Collateral
	RoundStart
	Timeout
)

var typeNames = map[Type]string{
	MVP:        "mvp",
	RoundWin:   "round_win",
	RoundLose:  "round_lose",
	Suicide:    "suicide",
	Teamkill:   "teamkill",
	Death:      "death",
	Flash:      "flash",
	Knife:      "knife",
	Headshot:   "headshot",
	Kill:       "kill",
	Collateral: "collateral",
	RoundStart: "round_start",
	Timeout:    "timeout",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Category returns the sound folder name associated with the event type.
// Sounds are organized on disk as <sounds dir>/<category>/<file>.
func (t Type) Category() string {
	switch t {
	case MVP:
		return "MVP"
	case RoundWin:
		return "Round win"
	case RoundLose:
		return "Round lose"
	case Suicide:
		return "Suicide"
	case Teamkill:
		return "Teamkill"
	case Death:
		return "Death"
	case Flash:
		return "Flash"
	case Knife:
		return "Knife"
	case Headshot:
		return "Headshot"
	case Kill:
		return "Kill"
	case Collateral:
		return "Collateral"
	case RoundStart:
		return "Round start"
	case Timeout:
		return "Timeout"
	}
	return ""
}

// Class is the propagation class of an event.
type Class int

const (
	// Normal events are sent to every room member except the actor; the
	// actor already heard the sound locally.
	Normal Class = iota
	// Shared events are broadcast to the whole room at most once per
	// round.
	Shared
	// Rare events are broadcast to the whole room on every occurrence,
	// never deduplicated.
	Rare
)

func (c Class) String() string {
	switch c {
	case Shared:
		return "shared"
	case Rare:
		return "rare"
	}
	return "normal"
}

// Classify maps an event type and the actor's kill streak to a
// propagation class. A kill streak above 3 promotes an ordinary kill to
// rare.
func Classify(t Type, killCount int32) Class {
	switch t {
	case MVP, Suicide, Teamkill, Knife, Collateral:
		return Rare
	case RoundWin, RoundLose, RoundStart, Timeout:
		return Shared
	case Kill:
		if killCount > 3 {
			return Rare
		}
	}
	return Normal
}
