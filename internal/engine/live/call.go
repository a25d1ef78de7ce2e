// Package live wraps a [live.Provider] in a [Call]: a long-lived handle that
// owns at most one open connection at a time and survives restarts.
//
// Every connection a Call opens is stamped with an epoch. Events and audio
// from a connection are forwarded to the Call's stable channels only while its
// epoch is current, so a connection that was replaced by [Call.Restart] or
// dropped by [Call.Stop] can no longer influence the session that owns the
// Call.
//
// This package is internal because it encapsulates application-private call
// handling and is not intended for import by external code.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

// Default connect retry parameters.
const (
	defaultMaxAttempts = 3
	defaultBackoff     = 250 * time.Millisecond
	defaultMaxBackoff  = 2 * time.Second

	defaultEventBuf = 64
	defaultAudioBuf = 64
)

var (
	// ErrNotConnected is returned by operations that need an open connection.
	ErrNotConnected = errors.New("live: call not connected")

	// ErrAlreadyConnected is returned by Start while a connection is open.
	ErrAlreadyConnected = errors.New("live: call already connected")

	// ErrSuperseded is returned by Start or Restart when a newer Restart or a
	// Stop happened while the connection was being established.
	ErrSuperseded = errors.New("live: connect superseded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("live: call closed")
)

// Option is a functional option for configuring a [Call].
type Option func(*Call)

// WithRetry overrides how connects are retried. attempts includes the first
// try; backoff doubles after every failure up to maxBackoff.
func WithRetry(attempts int, backoff, maxBackoff time.Duration) Option {
	return func(c *Call) {
		c.maxAttempts = attempts
		c.backoff = backoff
		c.maxBackoff = maxBackoff
	}
}

// WithEventBuffer sets the capacity of the channel returned by [Call.Events].
func WithEventBuffer(n int) Option {
	return func(c *Call) { c.eventBuf = n }
}

// Call owns the live connection of one tutoring session.
//
// All methods are safe for concurrent use.
type Call struct {
	provider    live.Provider
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	eventBuf    int

	mu     sync.Mutex
	conn   live.Conn
	epoch  uint64
	closed bool

	events chan live.Event
	audio  chan []byte
	done   chan struct{}

	// wg tracks the forwarding goroutines (two per connection). Close waits for
	// them before closing the stable channels.
	wg sync.WaitGroup
}

// New creates a Call on provider. No connection is opened until Start.
func New(provider live.Provider, opts ...Option) *Call {
	c := &Call{
		provider:    provider,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
		eventBuf:    defaultEventBuf,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	c.events = make(chan live.Event, c.eventBuf)
	c.audio = make(chan []byte, defaultAudioBuf)
	return c
}

// Events returns a stable channel of events from whichever connection is
// current. It is closed by [Call.Close].
func (c *Call) Events() <-chan live.Event { return c.events }

// Audio returns a stable channel of assistant audio. Chunks are dropped when
// nobody drains it. It is closed by [Call.Close].
func (c *Call) Audio() <-chan []byte { return c.audio }

// Start opens the first connection.
func (c *Call) Start(ctx context.Context, cfg live.AssistantConfig) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	return c.connect(ctx, epoch, cfg)
}

// Restart stops the current connection, if any, and opens a new one with cfg.
// Later events of the old connection, including its call-end, are dropped.
func (c *Call) Restart(ctx context.Context, cfg live.AssistantConfig) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.conn
	c.conn = nil
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("live: close replaced connection", "err", err)
		}
	}
	return c.connect(ctx, epoch, cfg)
}

// Stop closes the current connection. Its events stop flowing immediately.
// Calling Stop without a connection is a no-op.
func (c *Call) Stop() error {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.epoch++
	c.mu.Unlock()

	if old == nil {
		return nil
	}
	if err := old.Close(); err != nil {
		return fmt.Errorf("live: stop: %w", err)
	}
	return nil
}

// Connected reports whether a connection is open.
func (c *Call) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Say makes the assistant speak text on the current connection.
func (c *Call) Say(text string) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Say(text); err != nil {
		return fmt.Errorf("live: say: %w", err)
	}
	return nil
}

// SendAudio forwards student audio to the current connection.
func (c *Call) SendAudio(chunk []byte) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendAudio(chunk)
}

// SetMuted sets the microphone state of the current connection.
func (c *Call) SetMuted(muted bool) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetMuted(muted)
	return nil
}

// IsMuted reads the microphone state of the current connection.
func (c *Call) IsMuted() (bool, error) {
	conn := c.current()
	if conn == nil {
		return false, ErrNotConnected
	}
	return conn.IsMuted(), nil
}

// Close stops the current connection, waits for the forwarders and closes the
// stable channels. Subsequent calls are no-ops.
func (c *Call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	err := c.Stop()

	c.wg.Wait()
	close(c.events)
	close(c.audio)
	return err
}

func (c *Call) current() live.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Call) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// connect dials with exponential backoff and installs the connection if epoch
// is still current when it succeeds. Balance errors are never retried.
func (c *Call) connect(ctx context.Context, epoch uint64, cfg live.AssistantConfig) error {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		conn, err := c.provider.Connect(ctx, cfg)
		if err == nil {
			return c.install(epoch, conn)
		}
		lastErr = err
		if errors.Is(err, live.ErrInsufficientBalance) || ctx.Err() != nil || attempt == c.maxAttempts {
			break
		}

		slog.Warn("live: connect failed, retrying",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"backoff", backoff,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("live: connect: %w", ctx.Err())
		case <-c.done:
			return ErrClosed
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
		if !c.isCurrent(epoch) {
			return ErrSuperseded
		}
	}
	return fmt.Errorf("live: connect: %w", lastErr)
}

func (c *Call) install(epoch uint64, conn live.Conn) error {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		closed := c.closed
		c.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrClosed
		}
		return ErrSuperseded
	}
	c.conn = conn
	c.wg.Go(func() { c.forwardEvents(epoch, conn.Events()) })
	c.wg.Go(func() { c.forwardAudio(epoch, conn.Audio()) })
	c.mu.Unlock()
	return nil
}

// forwardEvents copies events from one connection while its epoch is current.
// When the remote side ends a current connection, the Call forgets it so the
// next Start can connect again.
func (c *Call) forwardEvents(epoch uint64, src <-chan live.Event) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			if !c.isCurrent(epoch) {
				continue
			}
			if ev.Type == live.EventCallEnd {
				c.mu.Lock()
				if c.epoch == epoch {
					c.conn = nil
				}
				c.mu.Unlock()
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Call) forwardAudio(epoch uint64, src <-chan []byte) {
	for {
		select {
		case <-c.done:
			return
		case chunk, ok := <-src:
			if !ok {
				return
			}
			if !c.isCurrent(epoch) {
				continue
			}
			select {
			case c.audio <- chunk:
			default:
			}
		}
	}
}
