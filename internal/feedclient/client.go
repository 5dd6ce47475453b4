package feedclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/gorilla/websocket"
)

// State is the client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// Reconnect backoff starts at initialBackoff and doubles per failed
	// attempt, capped at maxBackoff. After maxAttempts consecutive
	// failures the client gives up and reports OnError. A successful
	// connection resets the attempt counter.
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	maxAttempts    = 5
)

// eventConn is one live stream connection.
type eventConn interface {
	ReadEvent() (domain.Event, error)
	Close() error
}

// dialFunc opens a stream connection; swappable for tests.
type dialFunc func(ctx context.Context, url string) (eventConn, error)

// Options configures a Client. All callbacks are optional and invoked
// from the client's Run goroutine.
type Options struct {
	// OnConnected fires after each successful (re)connection.
	OnConnected func()

	// OnDisconnected fires when an open connection is lost.
	OnDisconnected func()

	// OnError fires when the client gives up reconnecting.
	OnError func(error)

	// OnChange fires with the full local feed after each applied event.
	OnChange func([]domain.TweetView)

	Logger *slog.Logger
}

// Client connects to a tweetwall websocket stream and keeps a local feed
// reconciled against it.
type Client struct {
	url   string
	rec   *Reconciler
	opts  Options
	dial  dialFunc
	sleep func(ctx context.Context, d time.Duration) error
	state atomic.Int32
}

// New creates a client for the given stream URL, seeded with an initial
// snapshot.
func New(url string, initial []domain.TweetView, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:   url,
		rec:   NewReconciler(initial),
		opts:  opts,
		dial:  dialWebsocket,
		sleep: sleepCtx,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Items returns a copy of the reconciled local feed, newest first.
func (c *Client) Items() []domain.TweetView {
	return c.rec.Items()
}

// Run connects and consumes the stream until ctx is cancelled or the
// reconnect budget is exhausted. It reconnects on transient errors with
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx, c.url)
		if err == nil {
			attempts = 0
			c.setState(StateConnected)
			c.opts.Logger.Info("connected to tweet stream", "url", c.url)
			if c.opts.OnConnected != nil {
				c.opts.OnConnected()
			}

			err = c.consume(ctx, conn)
			conn.Close()
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.opts.Logger.Error("stream connection lost, reconnecting", "error", err)
			if c.opts.OnDisconnected != nil {
				c.opts.OnDisconnected()
			}
		} else {
			c.setState(StateDisconnected)
			c.opts.Logger.Error("stream connection failed", "error", err)
		}

		if attempts >= maxAttempts {
			err := fmt.Errorf("giving up after %d failed reconnect attempts", attempts)
			if c.opts.OnError != nil {
				c.opts.OnError(err)
			}
			return err
		}

		delay := backoffDelay(attempts)
		attempts++
		c.opts.Logger.Info("reconnecting",
			"delay", delay,
			"attempt", attempts,
			"max_attempts", maxAttempts,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Client) consume(ctx context.Context, conn eventConn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := conn.ReadEvent()
		if err != nil {
			return err
		}

		switch ev.(type) {
		case domain.ConnectedEvent:
			// Acknowledgement only; state already transitioned on dial.
			continue
		case domain.ErrorEvent:
			c.opts.Logger.Warn("server reported stream error")
			continue
		}

		if c.rec.Apply(ev) && c.opts.OnChange != nil {
			c.opts.OnChange(c.rec.Items())
		}
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// backoffDelay returns the delay before reconnect attempt n (0-based):
// 1s, 2s, 4s, ... capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := initialBackoff << attempt
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// wsConn adapts a gorilla websocket connection to eventConn.
type wsConn struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (eventConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) ReadEvent() (domain.Event, error) {
	_, message, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	ev, err := domain.DecodeEvent(message)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
