package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
)

const keepaliveInterval = 10 * time.Second

func TestKeepaliveRefreshesMembership(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv, cli := net.Pipe()
	var dialed atomic.Bool

	c := New(Config{Addr: "pipe", Room: "lobby"}, newTestStore(t), nil, Options{
		Clock: clock,
		Dial: func(ctx context.Context) (net.Conn, error) {
			if dialed.CompareAndSwap(false, true) {
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
	expectUpdate := func() *protocol.ClientUpdate {
		select {
		case msg, ok := <-msgs:
			require.True(t, ok, "connection closed while expecting a keepalive")
			update, isUpdate := msg.(*protocol.ClientUpdate)
			require.True(t, isUpdate, "expected ClientUpdate, got %T", msg)
			return update
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a keepalive")
			return nil
		}
	}

	assert.Equal(t, "lobby", expectUpdate().Room)

	// Each interval produces a fresh announce carrying room and owned
	// sounds, which is what refreshes the server-side liveness.
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(keepaliveInterval)
		assert.Equal(t, "lobby", expectUpdate().Room)
	}
}

func TestStuckOutboundQueueFailsSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv, cli := net.Pipe()
	var dials atomic.Int64

	c := New(Config{Addr: "pipe", Room: "lobby"}, newTestStore(t), nil, Options{
		Clock: clock,
		Dial: func(ctx context.Context) (net.Conn, error) {
			if dials.Add(1) == 1 {
				return cli, nil
			}
			return nil, errors.New("refused")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	go c.Run(ctx)

	// Take the announce, then stop reading: every later write blocks
	// and the outbound queue silts up behind it.
	msg, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	require.IsType(t, &protocol.ClientUpdate{}, msg)

	// Tick the keepalive until the queue is full and a send fails,
	// which must kill the session rather than silently dropping
	// liveness refreshes forever. The fake ticker coalesces ticks
	// delivered faster than they are consumed, so wait for each tick
	// to reach the outbound queue before advancing again.
	queueDepth := func() (int, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sess == nil {
			return 0, false
		}
		return len(c.sess.out), true
	}
	for i := 0; i < 100 && dials.Load() < 2; i++ {
		clock.BlockUntil(1)
		before, _ := queueDepth()
		clock.Advance(keepaliveInterval)
		deadline := time.Now().Add(250 * time.Millisecond)
		for time.Now().Before(deadline) && dials.Load() < 2 {
			depth, live := queueDepth()
			if !live || depth > before {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	assert.Eventually(t, func() bool { return dials.Load() >= 2 },
		2*time.Second, time.Millisecond, "stuck queue should tear the session down")
}
