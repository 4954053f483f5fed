package client

import (
	"sync"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
)

// Direction says which way a pending transfer moves.
type Direction int

const (
	Download Direction = iota
	Upload
)

// TransferQueue holds pending sound transfers as two LIFO stacks: the
// most recently queued request is served first, since it corresponds to
// the sound the user is most likely waiting to hear. Downloads win over
// uploads for the same reason.
type TransferQueue struct {
	mu        sync.Mutex
	downloads []protocol.Hash
	uploads   []protocol.Hash
	queued    map[protocol.Hash]Direction
	notify    chan struct{}
}

// NewTransferQueue builds an empty queue.
func NewTransferQueue() *TransferQueue {
	return &TransferQueue{
		queued: make(map[protocol.Hash]Direction),
		notify: make(chan struct{}, 1),
	}
}

// PushDownload queues a download. Reports false when the hash is
// already pending in that direction.
func (q *TransferQueue) PushDownload(h protocol.Hash) bool {
	return q.push(h, Download)
}

// PushUpload queues an upload.
func (q *TransferQueue) PushUpload(h protocol.Hash) bool {
	return q.push(h, Upload)
}

func (q *TransferQueue) push(h protocol.Hash, dir Direction) bool {
	q.mu.Lock()
	if existing, ok := q.queued[h]; ok && existing == dir {
		q.mu.Unlock()
		return false
	}
	q.queued[h] = dir
	if dir == Download {
		q.downloads = append(q.downloads, h)
	} else {
		q.uploads = append(q.uploads, h)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop takes the next transfer, most recent first, downloads before
// uploads. ok is false when both stacks are empty.
func (q *TransferQueue) Pop() (h protocol.Hash, dir Direction, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Entries superseded by a push in the other direction are skipped;
	// the queued map is the source of truth.
	for n := len(q.downloads); n > 0; n = len(q.downloads) {
		h = q.downloads[n-1]
		q.downloads = q.downloads[:n-1]
		if d, pending := q.queued[h]; pending && d == Download {
			delete(q.queued, h)
			return h, Download, true
		}
	}
	for n := len(q.uploads); n > 0; n = len(q.uploads) {
		h = q.uploads[n-1]
		q.uploads = q.uploads[:n-1]
		if d, pending := q.queued[h]; pending && d == Upload {
			delete(q.queued, h)
			return h, Upload, true
		}
	}
	return protocol.Hash{}, 0, false
}

// Ready signals when something may have been pushed. Spurious wakeups
// are fine; callers loop around Pop.
func (q *TransferQueue) Ready() <-chan struct{} {
	return q.notify
}

// Clear drops every pending transfer. Called on room switches, where
// queued backfills no longer correspond to anything the new room wants.
func (q *TransferQueue) Clear() {
	q.mu.Lock()
	q.downloads = nil
	q.uploads = nil
	q.queued = make(map[protocol.Hash]Direction)
	q.mu.Unlock()

	select {
	case <-q.notify:
	default:
	}
}

// Len returns the number of pending downloads and uploads.
func (q *TransferQueue) Len() (downloads, uploads int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.downloads), len(q.uploads)
}
