package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
)

// MaxPayload is the hard cap on a frame payload (tag byte included),
// enforced identically by client and server. A declared length above it
// terminates the connection before any of the body is read.
const MaxPayload = 3 << 20

var (
	// ErrFrameTooLarge means a frame declared a payload over MaxPayload.
	// Fatal for the connection: the stream cannot be resynchronized.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds max payload")
	// ErrUnknownTag means the payload's leading tag byte names no known
	// message. Fatal for the connection.
	ErrUnknownTag = errors.New("protocol: unknown message tag")
	// ErrTruncated means the payload ended before its fields did.
	ErrTruncated = errors.New("protocol: truncated payload")
	// ErrHashTooLong means a hash field exceeded the fixed wire width.
	ErrHashTooLong = errors.New("protocol: hash longer than 64 bytes")
	// ErrEmptyFrame means a frame declared a zero-length payload.
	ErrEmptyFrame = errors.New("protocol: empty frame")
)

// Encode serializes the message into a complete frame, length prefix
// included.
func Encode(m Message) ([]byte, error) {
	tag := tagOf(m)
	if tag == 0 {
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}

	w := encoder{buf: make([]byte, 4, 64)}
	w.byte(tag)

	switch v := m.(type) {
	case *ClientUpdate:
		w.int64(v.SteamID)
		w.str(v.Room)
		w.hashList(v.Sounds)
	case *SoundRequest:
		w.hash(v.Hash)
	case *SoundData:
		w.hash(v.Hash)
		w.bytes(v.Data)
	case *PlaySound:
		w.int64(v.SteamID)
		w.hash(v.Hash)
	case *RoomSounds:
		w.hashList(v.Available)
		w.hashList(v.Missing)
	case *GameEventMsg:
		w.int32(int32(v.Event))
		w.hash(v.ProposedSound)
		w.int32(v.KillCount)
		w.int32(v.Round)
	}

	payload := len(w.buf) - 4
	if payload > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, payload)
	}
	binary.BigEndian.PutUint32(w.buf[:4], uint32(payload))
	return w.buf, nil
}

// Decode parses one frame payload (tag byte plus body) into its message
// variant.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}
	r := decoder{buf: payload[1:]}

	var m Message
	switch payload[0] {
	case tagClientUpdate:
		v := &ClientUpdate{}
		v.SteamID = r.int64()
		v.Room = r.str()
		v.Sounds = r.hashList()
		m = v
	case tagSoundRequest:
		v := &SoundRequest{}
		v.Hash = r.hash()
		m = v
	case tagSoundData:
		v := &SoundData{}
		v.Hash = r.hash()
		v.Data = r.bytes()
		m = v
	case tagPlaySound:
		v := &PlaySound{}
		v.SteamID = r.int64()
		v.Hash = r.hash()
		m = v
	case tagRoomSounds:
		v := &RoomSounds{}
		v.Available = r.hashList()
		v.Missing = r.hashList()
		m = v
	case tagGameEvent:
		v := &GameEventMsg{}
		v.Event = events.Type(r.int32())
		v.ProposedSound = r.hash()
		v.KillCount = r.int32()
		v.Round = r.int32()
		m = v
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, payload[0])
	}

	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// ReadFrame reads exactly one frame from r. The declared length is
// validated against MaxPayload before a single payload byte is read, so
// an abusive peer can never make us buffer its claim.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}
	if length == 0 {
		return nil, ErrEmptyFrame
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return Decode(payload)
}

// WriteFrame encodes the message and writes the complete frame to w.
func WriteFrame(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// encoder appends big-endian fields to a growing buffer.
type encoder struct {
	buf []byte
}

func (w *encoder) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *encoder) int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *encoder) int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *encoder) hash(h Hash) {
	w.buf = append(w.buf, h[:]...)
}

func (w *encoder) hashList(hs []Hash) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(hs)))
	for _, h := range hs {
		w.hash(h)
	}
}

func (w *encoder) bytes(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *encoder) str(s string) {
	w.bytes([]byte(s))
}

// decoder consumes big-endian fields from a payload. The first failure
// sticks; callers check err once after all fields are read.
type decoder struct {
	buf []byte
	err error
}

func (r *decoder) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *decoder) int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *decoder) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *decoder) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *decoder) hash() Hash {
	var h Hash
	copy(h[:], r.take(HashSize))
	return h
}

func (r *decoder) hashList() []Hash {
	n := r.uint32()
	if r.err != nil || n == 0 {
		return nil
	}
	if int(n)*HashSize > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	out := make([]Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.hash())
	}
	return out
}

func (r *decoder) bytes() []byte {
	n := r.uint32()
	if r.err != nil || n == 0 {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *decoder) str() string {
	return string(r.bytes())
}
