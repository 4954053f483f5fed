package protocol

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the fixed width of a sound hash on the wire: a blake2b-512
// digest. Shorter hashes are zero-padded when encoded; anything longer is
// a protocol violation.
const HashSize = 64

// Hash is the content digest identifying a sound. Two files with
// identical bytes are the same sound regardless of name.
type Hash [HashSize]byte

// HashFromBytes builds a Hash from raw bytes, zero-padding short input.
// It fails on input longer than HashSize.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) > HashSize {
		return h, fmt.Errorf("%w: %d bytes", ErrHashTooLong, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether the hash is all zeros, the wire representation
// of "no sound".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the full lowercase hex form, used as the cache file name.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Short returns an abbreviated form for logs, first and last four hex
// digits.
func (h Hash) Short() string {
	hx := h.Hex()
	return hx[:4] + "-" + hx[len(hx)-4:]
}
