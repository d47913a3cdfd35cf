package relay

import (
	"sync"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// SendStatus is the outcome of a non-blocking transport write.
type SendStatus int

const (
	// Sent means the message was accepted.
	Sent SendStatus = iota
	// Backpressure means the message was accepted but the outbound buffer
	// is above its high-water mark. Callers stop writing until Drain.
	Backpressure
	// Dropped means the message was not accepted: the transport is closed
	// or its buffer is full.
	Dropped
)

func (s SendStatus) String() string {
	switch s {
	case Sent:
		return "sent"
	case Backpressure:
		return "backpressure"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Transport is one remote connection. TrySend must not block.
type Transport interface {
	TrySend(msg []byte) SendStatus
	Close() error
}

// State is the relay-side state of a connection.
type State int

const (
	Idle State = iota
	Subscribed
	Draining
	Closed
)

func (s State) String() string {
	return [...]string{"idle", "subscribed", "draining", "closed"}[s]
}

// Conn is a relay connection. All fields behind mu are touched by the log
// subscriber, the flush goroutine, the transport's writer, and the relay.
type Conn struct {
	ID        types.ConnID
	transport Transport

	mu        sync.Mutex
	sessionID types.SessionID
	cancel    func()
	gen       int
	pending   []event.Event
	queue     [][]byte
	draining  bool
	failed    bool
	closed    bool

	wake      chan struct{}
	done      chan struct{}
	flushDone chan struct{}
}

func newConn(t Transport) *Conn {
	return &Conn{
		ID:        types.NewConnID(),
		transport: t,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		flushDone: make(chan struct{}),
	}
}

// SessionID returns the session the connection follows, or "".
func (c *Conn) SessionID() types.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed, c.failed:
		return Closed
	case c.draining:
		return Draining
	case c.cancel != nil:
		return Subscribed
	default:
		return Idle
	}
}

// Draining reports whether sends are being queued.
func (c *Conn) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// QueueLen returns the number of messages waiting for Drain.
func (c *Conn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// PendingLen returns the number of events waiting for the flush goroutine.
func (c *Conn) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// deliver runs on the appending goroutine with the event log locked. It
// only buffers the event and wakes the flush goroutine.
func (c *Conn) deliver(gen int, ev event.Event) {
	c.mu.Lock()
	if c.closed || c.failed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// takePending returns the buffered batch minus events that belong to a
// session the connection has since left.
func (c *Conn) takePending() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.pending
	c.pending = nil
	out := batch[:0]
	for _, ev := range batch {
		if ev.Global() || ev.SessionID == c.sessionID {
			out = append(out, ev)
		}
	}
	return out
}
