// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out scripted connections.
// Use Conn to push events into the orchestrator and inspect what it said,
// muted or closed.
//
// Example:
//
//	p := &mock.Provider{}
//	conn, _ := p.Connect(ctx, cfg)
//	p.Last().Emit(live.Event{Type: live.EventCallStart})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the AssistantConfig passed to Connect.
	Cfg live.AssistantConfig
}

// Provider is a mock implementation of live.Provider. Every successful Connect
// returns a fresh *Conn, retrievable with Conns or Last.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectErrs, if non-empty, is consumed one entry per Connect call before
	// ConnectErr is consulted. A nil entry lets that call succeed.
	ConnectErrs []error

	// AutoStart makes every new Conn emit EventCallStart right away.
	AutoStart bool

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	conns   []*Conn
	connect chan *Conn
}

// Connect records the call and returns a new Conn or the configured error.
func (p *Provider) Connect(ctx context.Context, cfg live.AssistantConfig) (live.Conn, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})

	var err error
	if len(p.ConnectErrs) > 0 {
		err = p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
	} else {
		err = p.ConnectErr
	}
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	c := NewConn()
	p.conns = append(p.conns, c)
	notify := p.connect
	autoStart := p.AutoStart
	p.mu.Unlock()

	if autoStart {
		c.Emit(live.Event{Type: live.EventCallStart})
	}
	if notify != nil {
		notify <- c
	}
	return c, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Connected returns a channel that receives every Conn created after the call.
// The channel is buffered; tests that expect many connects should drain it.
func (p *Provider) Connected() <-chan *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connect == nil {
		p.connect = make(chan *Conn, 16)
	}
	return p.connect
}

// Conns returns all connections handed out so far, oldest first.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Last returns the most recent connection, or nil.
func (p *Provider) Last() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Conn is a mock implementation of live.Conn.
type Conn struct {
	mu sync.Mutex

	events chan live.Event
	audio  chan []byte
	closed bool
	muted  bool

	// SayErr, if non-nil, is returned from Say.
	SayErr error

	// CloseErr, if non-nil, is returned from Close (the Conn still closes).
	CloseErr error

	says      []string
	sentAudio [][]byte
	closes    int
}

// NewConn returns an open Conn with buffered channels.
func NewConn() *Conn {
	return &Conn{
		events: make(chan live.Event, 64),
		audio:  make(chan []byte, 64),
	}
}

// Emit pushes ev onto the event stream. Emitting on a closed Conn is a no-op.
func (c *Conn) Emit(ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// EmitAudio pushes an assistant audio chunk.
func (c *Conn) EmitAudio(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.audio <- chunk
}

// End emits EventCallEnd and closes the streams, as a remote hang-up would.
func (c *Conn) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- live.Event{Type: live.EventCallEnd}
	c.closed = true
	close(c.events)
	close(c.audio)
}

// Events implements live.Conn.
func (c *Conn) Events() <-chan live.Event { return c.events }

// Audio implements live.Conn.
func (c *Conn) Audio() <-chan []byte { return c.audio }

// SendAudio records the chunk unless muted or closed.
func (c *Conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: conn closed")
	}
	if c.muted {
		return nil
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sentAudio = append(c.sentAudio, cp)
	return nil
}

// Say records text.
func (c *Conn) Say(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SayErr != nil {
		return c.SayErr
	}
	if c.closed {
		return errors.New("mock: conn closed")
	}
	c.says = append(c.says, text)
	return nil
}

// SetMuted implements live.Conn.
func (c *Conn) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// IsMuted implements live.Conn.
func (c *Conn) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Close closes the streams without emitting call-end. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.closed {
		c.closed = true
		close(c.events)
		close(c.audio)
	}
	return c.CloseErr
}

// Says returns every text passed to Say, in order.
func (c *Conn) Says() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.says))
	copy(out, c.says)
	return out
}

// SentAudio returns every chunk accepted by SendAudio.
func (c *Conn) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sentAudio))
	copy(out, c.sentAudio)
	return out
}

// Closed reports whether Close or End has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount returns how many times Close was called.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Ensure Conn implements live.Conn at compile time.
var _ live.Conn = (*Conn)(nil)
