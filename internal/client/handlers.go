package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
)

// suspendPoll is how often the transfer worker rechecks the alive
// state while transfers are paused.
const suspendPoll = time.Second

// handle dispatches one server frame. Frames only a client may send
// are a protocol violation and kill the session.
func (c *Client) handle(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.PlaySound:
		c.handlePlaySound(m)
	case *protocol.SoundRequest:
		c.transfers.PushUpload(m.Hash)
	case *protocol.SoundData:
		c.handleSoundData(m)
	case *protocol.RoomSounds:
		c.handleRoomSounds(m)
	default:
		return fmt.Errorf("unexpected %T from server", msg)
	}
	return nil
}

// handlePlaySound plays a cached sound immediately, or queues the
// download and remembers to play it on arrival. Our own normal events
// already played locally, so echoes of them are skipped.
func (c *Client) handlePlaySound(m *protocol.PlaySound) {
	c.mu.Lock()
	own := m.SteamID != 0 && m.SteamID == c.steamID
	c.mu.Unlock()
	if own {
		return
	}

	if c.store.Contains(m.Hash) {
		c.play(m.Hash)
		return
	}

	c.mu.Lock()
	c.pendingPlays[m.Hash]++
	c.mu.Unlock()
	c.queueDownload(m.Hash)
}

// handleSoundData verifies and caches a downloaded sound, then plays
// it once per play that was waiting on it.
func (c *Client) handleSoundData(m *protocol.SoundData) {
	added, err := c.store.Put(m.Hash, m.Data)
	if err != nil {
		log.Warn().Err(err).Str("hash", m.Hash.Short()).Msg("discarding bad download")
		// The download is over even though nothing arrived; settle the
		// progress counters and the plays that were waiting on it so
		// the status line does not stick at X/Y forever.
		c.mu.Lock()
		delete(c.pendingPlays, m.Hash)
		if c.dlTotal > 0 {
			c.dlTotal--
		}
		done, total := c.dlDone, c.dlTotal
		c.mu.Unlock()
		if done >= total {
			c.status("Connected")
		} else {
			c.status(fmt.Sprintf("Downloading sound %d/%d", done, total))
		}
		return
	}
	if added {
		c.mu.Lock()
		c.dlDone++
		done, total := c.dlDone, c.dlTotal
		c.mu.Unlock()
		if total > 0 {
			c.status(fmt.Sprintf("Downloading sound %d/%d", done, total))
			if done >= total {
				c.status("Connected")
			}
		}
	}

	c.mu.Lock()
	plays := c.pendingPlays[m.Hash]
	delete(c.pendingPlays, m.Hash)
	c.mu.Unlock()
	for i := 0; i < plays; i++ {
		c.play(m.Hash)
	}
}

// handleRoomSounds backfills every room sound we do not have yet.
func (c *Client) handleRoomSounds(m *protocol.RoomSounds) {
	for _, h := range m.Available {
		if !c.store.Contains(h) {
			c.queueDownload(h)
		}
	}
}

func (c *Client) queueDownload(h protocol.Hash) {
	if !c.transfers.PushDownload(h) {
		return
	}
	c.mu.Lock()
	c.dlTotal++
	done, total := c.dlDone, c.dlTotal
	c.mu.Unlock()
	c.status(fmt.Sprintf("Downloading sound %d/%d", done, total))
}

// transferLoop drains the transfer queue, most recent request first,
// pausing while the local player is alive so playback never stutters
// mid-round.
func (c *Client) transferLoop(ctx context.Context) error {
	for {
		if c.cfg.SuspendWhileAlive && c.isAlive() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(suspendPoll):
			}
			continue
		}

		h, dir, ok := c.transfers.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.transfers.Ready():
			}
			continue
		}

		switch dir {
		case Download:
			c.send(&protocol.SoundRequest{Hash: h})
		case Upload:
			data, err := c.store.Get(h)
			if err != nil {
				log.Debug().Str("hash", h.Short()).Msg("requested sound not cached, skipping upload")
				continue
			}
			if len(data) > protocol.MaxPayload-protocol.HashSize-16 {
				log.Warn().Str("hash", h.Short()).Int("size", len(data)).Msg("sound too large to upload")
				continue
			}
			c.send(&protocol.SoundData{Hash: h, Data: data})
		}
	}
}
