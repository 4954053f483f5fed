package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/soundstore"
)

// wavBytes renders a tiny valid WAV file and returns its bytes.
func wavBytes(t *testing.T, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type recordPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *recordPlayer) Play(buf *goaudio.IntBuffer, gain float64, done func()) {
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	if done != nil {
		done()
	}
}

func (p *recordPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

// harness wires a client to a scripted in-memory server.
type harness struct {
	t      *testing.T
	client *Client
	player *recordPlayer
	store  *soundstore.Store
	alive  atomic.Bool
	conn   net.Conn
	msgs   chan protocol.Message
}

func startClient(t *testing.T, cfg Config) *harness {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	h := &harness{
		t:      t,
		player: &recordPlayer{},
		store:  newTestStore(t),
		conn:   serverConn,
		msgs:   make(chan protocol.Message, 32),
	}

	cfg.KeepaliveInterval = time.Hour
	if cfg.Addr == "" {
		cfg.Addr = "pipe"
	}

	var dialed atomic.Bool
	h.client = New(cfg, h.store, h.player, Options{
		IsAlive: h.alive.Load,
		Dial: func(ctx context.Context) (net.Conn, error) {
			if dialed.CompareAndSwap(false, true) {
				return clientConn, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		serverConn.Close()
	})
	go h.client.Run(ctx)

	go func() {
		defer close(h.msgs)
		for {
			msg, err := protocol.ReadFrame(serverConn)
			if err != nil {
				return
			}
			h.msgs <- msg
		}
	}()
	return h
}

// addOwned puts a local sound in the store's library under the given
// category and returns its hash.
func (h *harness) addOwned(category string, data []byte) protocol.Hash {
	h.t.Helper()
	dir := h.t.TempDir()
	require.NoError(h.t, os.MkdirAll(filepath.Join(dir, category), 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, category, "sound.wav"), data, 0o644))
	require.NoError(h.t, h.store.LoadLocal(dir))
	return soundstore.ComputeHash(data)
}

func (h *harness) send(msg protocol.Message) {
	h.t.Helper()
	require.NoError(h.t, h.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(h.t, protocol.WriteFrame(h.conn, msg))
}

func (h *harness) expect() protocol.Message {
	h.t.Helper()
	select {
	case msg, ok := <-h.msgs:
		require.True(h.t, ok, "connection closed while expecting a message")
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for a client message")
		return nil
	}
}

func (h *harness) expectNothing() {
	h.t.Helper()
	select {
	case msg := <-h.msgs:
		h.t.Fatalf("unexpected message %T", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionAnnouncesOnConnect(t *testing.T) {
	data := wavBytes(t, []int{0, 1, 2, 3})

	h := startClient(t, Config{Room: "lobby"})

	update, ok := h.expect().(*protocol.ClientUpdate)
	require.True(t, ok)
	assert.Equal(t, "lobby", update.Room)

	// Load the library after the session is up and re-announce.
	owned := h.addOwned("Kill", data)
	h.client.SetRoom("lobby")

	update, ok = h.expect().(*protocol.ClientUpdate)
	require.True(t, ok)
	assert.Contains(t, update.Sounds, owned)
}

func TestRoomSoundsTriggersBackfill(t *testing.T) {
	data := wavBytes(t, []int{5, 6, 7, 8})
	hash := soundstore.ComputeHash(data)

	h := startClient(t, Config{Room: "lobby"})
	h.expect() // initial announce

	h.send(&protocol.RoomSounds{Available: []protocol.Hash{hash}})

	req, ok := h.expect().(*protocol.SoundRequest)
	require.True(t, ok)
	assert.Equal(t, hash, req.Hash)

	h.send(&protocol.SoundData{Hash: hash, Data: data})
	assert.Eventually(t, func() bool { return h.store.Contains(hash) },
		2*time.Second, time.Millisecond)

	// Already cached now; announcing it again queues nothing.
	h.send(&protocol.RoomSounds{Available: []protocol.Hash{hash}})
	h.expectNothing()
}

func TestPlaySoundDownloadsThenPlays(t *testing.T) {
	data := wavBytes(t, []int{1, 2, 3, 4})
	hash := soundstore.ComputeHash(data)

	h := startClient(t, Config{Room: "lobby"})
	h.expect()

	h.send(&protocol.PlaySound{SteamID: 42, Hash: hash})

	req, ok := h.expect().(*protocol.SoundRequest)
	require.True(t, ok)
	assert.Equal(t, hash, req.Hash)
	assert.Equal(t, 0, h.player.count())

	h.send(&protocol.SoundData{Hash: hash, Data: data})
	assert.Eventually(t, func() bool { return h.player.count() == 1 },
		2*time.Second, time.Millisecond)
}

func TestPlaySoundCachedPlaysImmediately(t *testing.T) {
	data := wavBytes(t, []int{9, 9, 9, 9})

	h := startClient(t, Config{Room: "lobby"})
	owned := h.addOwned("MVP", data)
	h.expect()

	h.send(&protocol.PlaySound{SteamID: 42, Hash: owned})
	assert.Eventually(t, func() bool { return h.player.count() == 1 },
		2*time.Second, time.Millisecond)
}

func TestPlaySoundOwnEchoIgnored(t *testing.T) {
	data := wavBytes(t, []int{4, 4, 4, 4})

	h := startClient(t, Config{Room: "lobby"})
	owned := h.addOwned("MVP", data)
	h.expect()

	h.client.SetSteamID(7)
	h.expect() // announce triggered by the id change

	h.send(&protocol.PlaySound{SteamID: 7, Hash: owned})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, h.player.count())
}

func TestUploadOnRequest(t *testing.T) {
	data := wavBytes(t, []int{2, 4, 6, 8})

	h := startClient(t, Config{Room: "lobby"})
	owned := h.addOwned("Headshot", data)
	h.expect()

	h.send(&protocol.SoundRequest{Hash: owned})

	upload, ok := h.expect().(*protocol.SoundData)
	require.True(t, ok)
	assert.Equal(t, owned, upload.Hash)
	assert.Equal(t, data, upload.Data)
}

func TestUnknownSoundRequestIgnored(t *testing.T) {
	h := startClient(t, Config{Room: "lobby"})
	h.expect()

	var unknown protocol.Hash
	unknown[0] = 0xee
	h.send(&protocol.SoundRequest{Hash: unknown})
	h.expectNothing()
}

func TestTransfersSuspendedWhileAlive(t *testing.T) {
	data := wavBytes(t, []int{3, 1, 4, 1})
	hash := soundstore.ComputeHash(data)

	h := startClient(t, Config{Room: "lobby", SuspendWhileAlive: true})
	h.alive.Store(true)
	h.expect()

	h.send(&protocol.RoomSounds{Available: []protocol.Hash{hash}})
	h.expectNothing()

	// Death resumes transfers on the next poll.
	h.alive.Store(false)
	req, ok := h.expect().(*protocol.SoundRequest)
	require.True(t, ok)
	assert.Equal(t, hash, req.Hash)
}

func TestClientOnlyFrameFromServerDisconnects(t *testing.T) {
	h := startClient(t, Config{Room: "lobby"})
	h.expect()

	h.send(&protocol.ClientUpdate{Room: "nope"})

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-h.msgs:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueuedTransfersSurviveReconnect(t *testing.T) {
	data := wavBytes(t, []int{7, 7, 7, 7})
	hash := soundstore.ComputeHash(data)

	srv1, cli1 := net.Pipe()
	srv2, cli2 := net.Pipe()
	conns := make(chan net.Conn, 2)
	conns <- cli1
	conns <- cli2

	var alive atomic.Bool
	alive.Store(true) // keep the transfer worker from popping the queue

	c := New(Config{
		Addr:              "pipe",
		Room:              "lobby",
		SuspendWhileAlive: true,
		KeepaliveInterval: time.Hour,
		InitialBackoff:    time.Millisecond,
	}, newTestStore(t), nil, Options{
		IsAlive: alive.Load,
		Dial: func(ctx context.Context) (net.Conn, error) {
			select {
			case conn := <-conns:
				return conn, nil
			default:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv1.Close()
		srv2.Close()
	})
	go c.Run(ctx)

	readFrames := func(conn net.Conn) chan protocol.Message {
		msgs := make(chan protocol.Message, 32)
		go func() {
			defer close(msgs)
			for {
				msg, err := protocol.ReadFrame(conn)
				if err != nil {
					return
				}
				msgs <- msg
			}
		}()
		return msgs
	}
	expect := func(msgs chan protocol.Message) protocol.Message {
		select {
		case msg, ok := <-msgs:
			require.True(t, ok, "connection closed while expecting a message")
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a client message")
			return nil
		}
	}

	msgs1 := readFrames(srv1)
	_, ok := expect(msgs1).(*protocol.ClientUpdate)
	require.True(t, ok)

	require.NoError(t, protocol.WriteFrame(srv1, &protocol.RoomSounds{Available: []protocol.Hash{hash}}))
	assert.Eventually(t, func() bool {
		downloads, _ := c.transfers.Len()
		return downloads == 1
	}, 2*time.Second, time.Millisecond)

	// Drop the connection with the download still queued.
	srv1.Close()

	msgs2 := readFrames(srv2)
	_, ok = expect(msgs2).(*protocol.ClientUpdate)
	require.True(t, ok)

	// Death unsuspends the worker; the surviving entry is retried on
	// the new session.
	alive.Store(false)
	req, ok := expect(msgs2).(*protocol.SoundRequest)
	require.True(t, ok)
	assert.Equal(t, hash, req.Hash)
}

func TestIdleConnectionSurvivesReadDeadline(t *testing.T) {
	data := wavBytes(t, []int{8, 6, 7, 5})
	hash := soundstore.ComputeHash(data)

	srv, cli := net.Pipe()
	var dials atomic.Int64
	c := New(Config{
		Addr:              "pipe",
		Room:              "lobby",
		KeepaliveInterval: time.Hour,
		ReadTimeout:       50 * time.Millisecond,
	}, newTestStore(t), nil, Options{
		Dial: func(ctx context.Context) (net.Conn, error) {
			if dials.Add(1) == 1 {
				return cli, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	go c.Run(ctx)

	msgs := make(chan protocol.Message, 32)
	go func() {
		defer close(msgs)
		for {
			msg, err := protocol.ReadFrame(srv)
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()
	select {
	case msg := <-msgs:
		_, ok := msg.(*protocol.ClientUpdate)
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no announce")
	}

	// A quiet room outlives several read deadlines without a redial.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(1), dials.Load())

	// And the session still dispatches frames afterwards.
	require.NoError(t, protocol.WriteFrame(srv, &protocol.PlaySound{SteamID: 42, Hash: hash}))
	select {
	case msg := <-msgs:
		req, ok := msg.(*protocol.SoundRequest)
		require.True(t, ok)
		assert.Equal(t, hash, req.Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("session went deaf after the idle stretch")
	}
	assert.Equal(t, int64(1), dials.Load())
}

func TestCorruptDownloadSettlesProgress(t *testing.T) {
	data := wavBytes(t, []int{1, 3, 5, 7})
	hash := soundstore.ComputeHash(data)

	h := startClient(t, Config{Room: "lobby"})
	h.expect() // announce

	h.send(&protocol.PlaySound{SteamID: 42, Hash: hash})
	req, ok := h.expect().(*protocol.SoundRequest)
	require.True(t, ok)
	assert.Equal(t, hash, req.Hash)

	// A corrupted payload settles the counters instead of leaving the
	// status stuck at 0/1.
	h.send(&protocol.SoundData{Hash: hash, Data: []byte("not the claimed bytes")})
	assert.Eventually(t, func() bool {
		done, total := h.client.downloadProgress()
		return done == 0 && total == 0
	}, 2*time.Second, time.Millisecond)
	assert.False(t, h.store.Contains(hash))

	h.client.mu.Lock()
	_, pending := h.client.pendingPlays[hash]
	h.client.mu.Unlock()
	assert.False(t, pending, "pending play should not outlive the failed download")
	assert.Equal(t, 0, h.player.count())

	// A later genuine copy is still accepted; the dropped play intent
	// is not retried.
	h.send(&protocol.SoundData{Hash: hash, Data: data})
	assert.Eventually(t, func() bool { return h.store.Contains(hash) },
		2*time.Second, time.Millisecond)
	assert.Equal(t, 0, h.player.count())
}
