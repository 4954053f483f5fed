package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
)

func mustHash(t *testing.T, b []byte) Hash {
	t.Helper()
	h, err := HashFromBytes(b)
	require.NoError(t, err)
	return h
}

func TestRoundTrip(t *testing.T) {
	h1 := mustHash(t, []byte("first"))
	h2 := mustHash(t, []byte("second"))

	messages := []Message{
		&ClientUpdate{SteamID: 76561198000000001, Room: "the boys", Sounds: []Hash{h1, h2}},
		&ClientUpdate{}, // no match, no room, no sounds
		&SoundRequest{Hash: h1},
		&SoundData{Hash: h2, Data: []byte{0xde, 0xad, 0xbe, 0xef}},
		&SoundData{Hash: h2},
		&PlaySound{SteamID: 0, Hash: h1},
		&PlaySound{SteamID: 42, Hash: h2},
		&RoomSounds{Available: []Hash{h1}, Missing: []Hash{h2}},
		&RoomSounds{},
		&GameEventMsg{Event: events.Collateral, ProposedSound: h1, KillCount: 5, Round: 12},
	}

	for _, m := range messages {
		frame, err := Encode(m)
		require.NoError(t, err)

		got, err := ReadFrame(bytes.NewReader(frame))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestWriteFrameReadFrame(t *testing.T) {
	var buf bytes.Buffer
	first := &SoundRequest{Hash: mustHash(t, []byte("a"))}
	second := &PlaySound{SteamID: 7, Hash: mustHash(t, []byte("b"))}
	require.NoError(t, WriteFrame(&buf, first))
	require.NoError(t, WriteFrame(&buf, second))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

// bodyTrap fails the test if anything reads past the frame header.
type bodyTrap struct {
	t      *testing.T
	header []byte
}

func (r *bodyTrap) Read(p []byte) (int, error) {
	if len(r.header) == 0 {
		r.t.Fatal("read past the frame header of an oversized frame")
	}
	n := copy(p, r.header)
	r.header = r.header[n:]
	return n, nil
}

func TestOversizedFrameRejectedBeforeBody(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 4<<20) // 4 MiB, over the cap

	_, err := ReadFrame(&bodyTrap{t: t, header: header[:]})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeOversizedPayload(t *testing.T) {
	_, err := Encode(&SoundData{Data: make([]byte, MaxPayload)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		_, err := Decode([]byte{0x7f, 0x00})
		assert.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("truncated body", func(t *testing.T) {
		frame, err := Encode(&PlaySound{SteamID: 1, Hash: mustHash(t, []byte("x"))})
		require.NoError(t, err)
		_, err = Decode(frame[4 : len(frame)-10])
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("hash list count lies", func(t *testing.T) {
		payload := []byte{tagRoomSounds, 0xff, 0xff, 0xff, 0xff}
		_, err := Decode(payload)
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestHashPadding(t *testing.T) {
	h, err := HashFromBytes([]byte{0xab})
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), h[0])
	for _, b := range h[1:] {
		assert.Zero(t, b)
	}

	_, err = HashFromBytes(make([]byte, HashSize+1))
	assert.ErrorIs(t, err, ErrHashTooLong)
}

func TestHashShort(t *testing.T) {
	var h Hash
	h[0] = 0xab
	h[HashSize-1] = 0xcd
	assert.Equal(t, "ab00-00cd", h.Short())
	assert.True(t, Hash{}.IsZero())
	assert.False(t, h.IsZero())
}
