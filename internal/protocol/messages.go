// Package protocol implements the framed binary wire protocol spoken
// between sound clients and the sound server.
//
// Every frame is [4-byte big-endian payload length][payload], where the
// payload is one tag byte followed by the message body. Integers are
// big-endian fixed width, hashes are fixed 64-byte fields, and strings,
// byte blobs and hash lists carry a u32 length/count prefix. The tag
// byte makes the envelope an explicit discriminated union: decoding
// turns a payload into exactly one of the Message variants below.
package protocol

import "github.com/muratcansimsek/csgo-quake-sounds/internal/events"

// Message is the closed set of wire messages. All variants live in this
// package; the marker method keeps the union sealed.
type Message interface {
	message()
}

// Tag values. Wire-fixed, never reorder.
const (
	tagClientUpdate byte = iota + 1
	tagSoundRequest
	tagSoundData
	tagPlaySound
	tagRoomSounds
	tagGameEvent
)

// ClientUpdate is sent by a client to declare its identity, requested
// room and personally-owned sounds. It is re-sent periodically and
// doubles as the keepalive. The sound list deliberately excludes hashes
// obtained from the network so downloads are never re-advertised as
// locally authored.
type ClientUpdate struct {
	SteamID int64 // 0 when not in a match
	Room    string
	Sounds  []Hash
}

// SoundRequest asks the receiving side to transmit one sound.
type SoundRequest struct {
	Hash Hash
}

// SoundData carries a complete sound file. Partial payloads are never
// valid; integrity is verified over the whole blob.
type SoundData struct {
	Hash Hash
	Data []byte
}

// PlaySound instructs clients to play a sound. SteamID 0 targets the
// whole room; otherwise every member except the named actor plays it.
type PlaySound struct {
	SteamID int64
	Hash    Hash
}

// RoomSounds describes a room's current hash partition. Sent to a
// member on join and whenever the partition changes, so joiners backfill
// without waiting for a live event.
type RoomSounds struct {
	Available []Hash
	Missing   []Hash
}

// GameEventMsg notifies the server of a local game event together with
// the sound the client proposes for it.
type GameEventMsg struct {
	Event         events.Type
	ProposedSound Hash
	KillCount     int32
	Round         int32
}

func (*ClientUpdate) message() {}
func (*SoundRequest) message() {}
func (*SoundData) message()    {}
func (*PlaySound) message()    {}
func (*RoomSounds) message()   {}
func (*GameEventMsg) message() {}

func tagOf(m Message) byte {
	switch m.(type) {
	case *ClientUpdate:
		return tagClientUpdate
	case *SoundRequest:
		return tagSoundRequest
	case *SoundData:
		return tagSoundData
	case *PlaySound:
		return tagPlaySound
	case *RoomSounds:
		return tagRoomSounds
	case *GameEventMsg:
		return tagGameEvent
	}
	return 0
}
