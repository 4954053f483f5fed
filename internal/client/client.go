// Package client implements the sound-sync client: a single outbound
// connection with reconnect-and-backoff, the request/response sound
// protocol on top of it, and the transfer queue that paces up- and
// downloads around gameplay.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/audio"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/soundstore"
)

// DialFunc opens the transport connection. Swapped out in tests.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Config holds the client options. Zero durations get defaults.
type Config struct {
	Addr string

	// UseTLS dials an encrypted connection. Missing or unreadable CA
	// material degrades to plaintext with a log line rather than
	// failing.
	UseTLS bool
	TLSCA  string

	Room   string
	Volume int

	// SuspendWhileAlive pauses transfers while the local player is
	// alive in a live round.
	SuspendWhileAlive bool

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

func (cfg *Config) withDefaults() {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
}

// Options are the injectable collaborators. Every field has a working
// default.
type Options struct {
	Clock   clockwork.Clock
	IsAlive func() bool
	Status  func(string)
	Dial    DialFunc
}

// session is the state of one live connection. Recreated from scratch
// on each reconnect so nothing stale survives.
type session struct {
	conn net.Conn
	out  chan protocol.Message
}

// Client is the connection manager plus sound-sync protocol state.
type Client struct {
	cfg       Config
	store     *soundstore.Store
	player    audio.Player
	clock     clockwork.Clock
	isAlive   func() bool
	status    func(string)
	dial      DialFunc
	transfers *TransferQueue

	mu           sync.Mutex
	sess         *session
	connected    bool
	room         string
	steamID      int64
	round        int32
	pendingPlays map[protocol.Hash]int
	buffers      map[protocol.Hash]*goaudio.IntBuffer
	dlDone       int
	dlTotal      int
}

// New builds a client. The store must already have its local sounds
// loaded so the first ClientUpdate advertises them.
func New(cfg Config, store *soundstore.Store, player audio.Player, opts Options) *Client {
	cfg.withDefaults()

	c := &Client{
		cfg:          cfg,
		store:        store,
		player:       player,
		clock:        opts.Clock,
		isAlive:      opts.IsAlive,
		status:       opts.Status,
		dial:         opts.Dial,
		transfers:    NewTransferQueue(),
		room:         cfg.Room,
		pendingPlays: make(map[protocol.Hash]int),
		buffers:      make(map[protocol.Hash]*goaudio.IntBuffer),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.isAlive == nil {
		c.isAlive = func() bool { return false }
	}
	if c.status == nil {
		c.status = func(string) {}
	}
	if c.player == nil {
		c.player = audio.NullPlayer{}
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}
	return c
}

// Run connects and reconnects until the context is cancelled. Backoff
// starts at one second, doubles per consecutive failure, caps at one
// minute and resets on a successful connect.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.resetSession()
		c.status("Connecting...")

		conn, err := c.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(backoff):
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
			continue
		}

		backoff = c.cfg.InitialBackoff
		c.status("Connected")
		log.Info().Str("addr", c.cfg.Addr).Msg("connected to sound server")

		if err := c.runSession(ctx, conn); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("connection lost")
		}
	}
}

// resetSession drops stale play intents before a fresh connection.
// Pending transfers survive reconnects and are retried against the
// next session; only the in-flight one is lost with the socket.
func (c *Client) resetSession() {
	c.mu.Lock()
	c.pendingPlays = make(map[protocol.Hash]int)
	c.mu.Unlock()
}

// runSession runs the four duties of a live connection: reading frames
// in arrival order, draining the outbound queue, the keepalive timer,
// and the transfer worker. The first to fail tears the whole session
// down.
func (c *Client) runSession(ctx context.Context, conn net.Conn) error {
	sess := &session{conn: conn, out: make(chan protocol.Message, 64)}
	c.mu.Lock()
	c.sess = sess
	c.connected = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sess = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Unblock the reader when anything else fails.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error { return c.readLoop(conn) })
	g.Go(func() error { return c.writeLoop(gctx, sess) })
	g.Go(func() error { return c.keepaliveLoop(gctx) })
	g.Go(func() error { return c.transferLoop(gctx) })

	// Announce ourselves right away; joining the room must not wait
	// for the first keepalive tick.
	c.sendUpdate()

	return g.Wait()
}

func (c *Client) readLoop(conn net.Conn) error {
	cr := &countingReader{r: conn}
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return err
		}
		before := cr.n
		msg, err := protocol.ReadFrame(cr)
		if err != nil {
			// A quiet room sends nothing for minutes at a time. A
			// deadline that expires between frames just re-arms; a
			// timeout mid-frame means the peer stalled and is fatal.
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && cr.n == before {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.handle(msg); err != nil {
			return err
		}
	}
}

// countingReader tracks bytes consumed so the read loop can tell an
// idle deadline expiry from one that interrupted a partial frame.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func (c *Client) writeLoop(ctx context.Context, sess *session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sess.out:
			sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := protocol.WriteFrame(sess.conn, msg); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func (c *Client) keepaliveLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if !c.sendUpdate() {
				return fmt.Errorf("keepalive: outbound queue stuck")
			}
		}
	}
}

// send enqueues a message for the current session. Reports false when
// disconnected or the queue is full.
func (c *Client) send(msg protocol.Message) bool {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return false
	}

	select {
	case sess.out <- msg:
		return true
	default:
		log.Warn().Msg("outbound queue full, dropping message")
		return false
	}
}

// sendUpdate announces identity, room and owned sounds. Doubles as the
// keepalive.
func (c *Client) sendUpdate() bool {
	c.mu.Lock()
	steamID := c.steamID
	room := c.room
	c.mu.Unlock()

	return c.send(&protocol.ClientUpdate{
		SteamID: steamID,
		Room:    room,
		Sounds:  c.store.Owned(),
	})
}

// SetRoom changes the requested room and announces it immediately.
// Queued transfers belong to the old room's backfill and are dropped;
// the new room's sound list re-queues whatever is still wanted.
func (c *Client) SetRoom(name string) {
	c.mu.Lock()
	if c.room == name {
		c.mu.Unlock()
		c.sendUpdate()
		return
	}
	c.room = name
	c.pendingPlays = make(map[protocol.Hash]int)
	c.dlDone, c.dlTotal = 0, 0
	c.mu.Unlock()
	c.transfers.Clear()
	c.sendUpdate()
}

// Room returns the currently requested room.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// SetSteamID records the local player id (0 when not in a match).
func (c *Client) SetSteamID(id int64) {
	c.mu.Lock()
	changed := c.steamID != id
	c.steamID = id
	c.mu.Unlock()
	if changed {
		c.sendUpdate()
	}
}

// downloadProgress returns the completed and total download counters
// behind the "Downloading sound X/Y" status.
func (c *Client) downloadProgress() (done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dlDone, c.dlTotal
}

// defaultDial opens TCP, or TLS when configured and the CA material is
// usable. Missing material falls back to plaintext, loudly.
func (c *Client) defaultDial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	if !c.cfg.UseTLS {
		return dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	}

	tlsCfg := &tls.Config{}
	if c.cfg.TLSCA != "" {
		pem, err := os.ReadFile(c.cfg.TLSCA)
		if err != nil {
			log.Warn().Err(err).Msg("tls ca unreadable, falling back to plaintext")
			return dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			log.Warn().Str("ca", c.cfg.TLSCA).Msg("no usable certs in ca file, falling back to plaintext")
			return dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		}
		tlsCfg.RootCAs = pool
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	return tlsDialer.DialContext(ctx, "tcp", c.cfg.Addr)
}

// OnGameEvent is the entry point for locally derived game events. The
// proposed sound is picked at random from the event's category; normal
// events play locally right away instead of waiting for the round trip.
func (c *Client) OnGameEvent(ev events.Type, killCount, round int32) {
	c.mu.Lock()
	c.round = round
	connected := c.connected
	room := c.room
	c.mu.Unlock()

	h, ok := c.store.PickOwned(ev.Category())
	if !ok {
		log.Debug().Stringer("event", ev).Msg("no sound configured for event")
		return
	}

	class := events.Classify(ev, killCount)
	if !connected || room == "" {
		// Nothing to relay to and nothing will echo back.
		c.play(h)
		return
	}

	if class == events.Normal {
		c.play(h)
	}
	c.send(&protocol.GameEventMsg{
		Event:         ev,
		ProposedSound: h,
		KillCount:     killCount,
		Round:         round,
	})
}

// play decodes (lazily, cached) and plays a locally available sound.
func (c *Client) play(h protocol.Hash) {
	c.mu.Lock()
	buf, ok := c.buffers[h]
	c.mu.Unlock()

	if !ok {
		data, err := c.store.Get(h)
		if err != nil {
			log.Warn().Err(err).Str("hash", h.Short()).Msg("sound vanished before playback")
			return
		}
		buf, err = audio.DecodeWAVBytes(data)
		if err != nil {
			log.Warn().Err(err).Str("hash", h.Short()).Msg("undecodable sound")
			return
		}
		c.mu.Lock()
		c.buffers[h] = buf
		c.mu.Unlock()
	}

	c.player.Play(buf, audio.VolumeGain(c.cfg.Volume), nil)
}
