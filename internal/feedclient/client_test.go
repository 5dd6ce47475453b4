package feedclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptConn replays a fixed event sequence and then fails.
type scriptConn struct {
	events []domain.Event
	pos    int
}

func (c *scriptConn) ReadEvent() (domain.Event, error) {
	if c.pos >= len(c.events) {
		return nil, io.EOF
	}
	ev := c.events[c.pos]
	c.pos++
	return ev, nil
}

func (c *scriptConn) Close() error { return nil }

// newTestClient builds a client whose dial and sleep are scripted. Each
// dial consumes the next entry: a nil error yields a connection replaying
// that entry's events.
type dialScript struct {
	conns []*scriptConn // nil entry means the dial fails
}

func newTestClient(t *testing.T, script *dialScript, opts Options) (*Client, *[]time.Duration) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	c := New("ws://test/api/tweets/ws", nil, opts)

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.dial = func(_ context.Context, _ string) (eventConn, error) {
		if len(script.conns) == 0 {
			return nil, errors.New("dial refused")
		}
		next := script.conns[0]
		script.conns = script.conns[1:]
		if next == nil {
			return nil, errors.New("dial refused")
		}
		return next, nil
	}
	return c, &slept
}

func TestClientGivesUpAfterMaxAttemptsWithExponentialBackoff(t *testing.T) {
	var gotErr error
	client, slept := newTestClient(t, &dialScript{}, Options{
		OnError: func(err error) { gotErr = err },
	})

	err := client.Run(context.Background())
	require.Error(t, err)
	require.Error(t, gotErr)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	assert.Equal(t, want, *slept)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientResetsAttemptCounterOnSuccess(t *testing.T) {
	// Fail, fail, connect (stream then drops), then fail until give-up.
	script := &dialScript{conns: []*scriptConn{
		nil,
		nil,
		{events: []domain.Event{domain.ConnectedEvent{}}},
	}}

	var connected, disconnected int
	client, slept := newTestClient(t, script, Options{
		OnConnected:    func() { connected++ },
		OnDisconnected: func() { disconnected++ },
	})

	err := client.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, disconnected)

	// Two pre-success backoffs, then the schedule restarts from 1s: the
	// successful connection reset the counter.
	want := []time.Duration{
		time.Second, 2 * time.Second, // failures before the success
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	assert.Equal(t, want, *slept)
}

func TestClientAppliesStreamedEvents(t *testing.T) {
	script := &dialScript{conns: []*scriptConn{{events: []domain.Event{
		domain.ConnectedEvent{Message: "hello"},
		domain.AddedEvent{Tweet: domain.TweetView{ID: "1", SubmittedBy: []string{"alice"}}},
		domain.AddedEvent{Tweet: domain.TweetView{ID: "2", SubmittedBy: []string{"bob"}}},
		domain.SeenEvent{ID: "1", Seen: true},
	}}}}

	var changes int
	client, _ := newTestClient(t, script, Options{
		OnChange: func([]domain.TweetView) { changes++ },
	})

	// The stream ends in io.EOF and every later dial fails, so Run
	// returns after exhausting reconnects; the applied state survives.
	err := client.Run(context.Background())
	require.Error(t, err)

	items := client.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[0].ID)
	assert.Equal(t, "1", items[1].ID)
	assert.True(t, items[1].Seen)
	assert.Equal(t, 3, changes, "connected ack is not a state change")
}

func TestClientStopsOnContextCancel(t *testing.T) {
	client, _ := newTestClient(t, &dialScript{}, Options{})
	client.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(0))
	assert.Equal(t, 16*time.Second, backoffDelay(4))
	assert.Equal(t, maxBackoff, backoffDelay(5))
	assert.Equal(t, maxBackoff, backoffDelay(40))
}
