// Package soundstore is the content-addressed sound cache shared by the
// client and the server. Sounds are identified by their blake2b-512
// digest; the bytes behind a hash live either in the cache directory
// (downloads, named <cache dir>/<hex digest>) or at their original path
// under a named category folder (personally-owned sounds).
package soundstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
)

var (
	// ErrNotFound means the store holds no bytes for the hash.
	ErrNotFound = errors.New("soundstore: sound not found")
	// ErrHashMismatch means the offered bytes do not digest to the
	// claimed hash. The bytes are discarded, never written.
	ErrHashMismatch = errors.New("soundstore: bytes do not match claimed hash")
)

// ComputeHash digests a sound file's raw bytes. Both sides of the wire
// run the same algorithm; a disagreement here is a correctness bug, not
// a style choice.
func ComputeHash(b []byte) protocol.Hash {
	return blake2b.Sum512(b)
}

// Store maps hashes to sound bytes on disk. One store-wide mutex guards
// every mutation so two writers never race on the same hash.
type Store struct {
	cacheDir string

	mu    sync.Mutex
	paths map[protocol.Hash]string   // every known hash -> file with its bytes
	owned map[protocol.Hash]struct{} // loaded from local category folders
	named map[string][]protocol.Hash // category -> owned hashes
}

// New opens the store over the given cache directory, creating it if
// needed and registering any previously cached sounds.
func New(cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &Store{
		cacheDir: cacheDir,
		paths:    make(map[protocol.Hash]string),
		owned:    make(map[protocol.Hash]struct{}),
		named:    make(map[string][]protocol.Hash),
	}
	if err := s.scanCache(); err != nil {
		return nil, err
	}
	return s, nil
}

// scanCache registers cache files left over from previous runs. File
// names that are not a full hex digest are ignored.
func (s *Store) scanCache() error {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil || len(raw) != protocol.HashSize {
			continue
		}
		var h protocol.Hash
		copy(h[:], raw)
		s.paths[h] = filepath.Join(s.cacheDir, entry.Name())
		count++
	}

	log.Info().Int("sounds", count).Str("dir", s.cacheDir).Msg("sound cache loaded")
	return nil
}

// Put stores bytes under the claimed hash after verifying they actually
// digest to it. It reports whether a new file was written; a second call
// with the same valid pair is a no-op.
func (s *Store) Put(h protocol.Hash, data []byte) (added bool, err error) {
	if ComputeHash(data) != h {
		log.Warn().Str("hash", h.Short()).Msg("hash mismatch, dropping sound")
		return false, ErrHashMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[h]; ok {
		return false, nil
	}

	path := filepath.Join(s.cacheDir, h.Hex())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write sound %s: %w", h.Short(), err)
	}
	s.paths[h] = path

	log.Debug().Str("hash", h.Short()).Int("bytes", len(data)).Msg("sound cached")
	return true, nil
}

// Get returns the bytes behind a hash, or ErrNotFound.
func (s *Store) Get(h protocol.Hash) ([]byte, error) {
	s.mu.Lock()
	path, ok := s.paths[h]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sound %s: %w", h.Short(), err)
	}
	return data, nil
}

// Contains reports whether the store holds bytes for the hash.
func (s *Store) Contains(h protocol.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[h]
	return ok
}

// LoadLocal walks the sounds directory's category subfolders and
// registers every readable file as personally owned. Owned sounds are
// the only ones advertised over the wire; cached downloads never are,
// which keeps a downloaded sound from being relayed as if locally
// authored.
func (s *Store) LoadLocal(soundsDir string) error {
	categories, err := os.ReadDir(soundsDir)
	if err != nil {
		return fmt.Errorf("read sounds dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.owned = make(map[protocol.Hash]struct{})
	s.named = make(map[string][]protocol.Hash)

	total := 0
	for _, category := range categories {
		if !category.IsDir() {
			continue
		}
		dir := filepath.Join(soundsDir, category.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			log.Warn().Err(err).Str("category", category.Name()).Msg("skipping unreadable category")
			continue
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			path := filepath.Join(dir, file.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("skipping unreadable sound")
				continue
			}

			h := ComputeHash(data)
			s.paths[h] = path
			s.owned[h] = struct{}{}
			s.named[category.Name()] = append(s.named[category.Name()], h)
			total++
		}
	}

	log.Info().Int("sounds", total).Int("categories", len(s.named)).Msg("local sounds loaded")
	return nil
}

// Owned returns the personally-owned hashes, in a stable order.
func (s *Store) Owned() []protocol.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Hash, 0, len(s.owned))
	for h := range s.owned {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}

// Named returns the category -> owned hash mapping.
func (s *Store) Named() map[string][]protocol.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]protocol.Hash, len(s.named))
	for category, hashes := range s.named {
		out[category] = append([]protocol.Hash(nil), hashes...)
	}
	return out
}

// PickOwned selects a random owned sound from a category. The second
// return is false when the category is empty or unknown.
func (s *Store) PickOwned(category string) (protocol.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := s.named[category]
	if len(hashes) == 0 {
		return protocol.Hash{}, false
	}
	return hashes[rand.Intn(len(hashes))], true
}
