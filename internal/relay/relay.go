// Package relay streams events from the log to remote connections. Each
// connection follows one session, buffers events on a flush goroutine and
// queues writes while its transport reports backpressure.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/metrics"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

// Registry is the read side the relay needs.
type Registry interface {
	Session(id types.SessionID) (readmodel.SessionMeta, bool)
	SessionList() readmodel.SessionList
}

// Dispatcher loads sessions on resume and supplies the process epoch.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID types.SessionID, cmd command.Command) error
	Epoch() types.Epoch
}

// Relay owns every live connection.
type Relay struct {
	log        *state.EventLog
	registry   Registry
	dispatcher Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[types.ConnID]*Conn

	listCancel func()
	listDirty  chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New creates a relay and starts the session-list broadcaster.
func New(log *state.EventLog, registry Registry, dispatcher Dispatcher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		log:        log,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With("component", "relay"),
		conns:      make(map[types.ConnID]*Conn),
		listDirty:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	r.listCancel = log.Subscribe(func(ev event.Event) {
		if !readmodel.IsSessionAffecting(ev.Type) {
			return
		}
		select {
		case r.listDirty <- struct{}{}:
		default:
		}
	})
	r.wg.Add(1)
	go r.broadcastLoop()
	return r
}

// Epoch returns the epoch clients must present to resume from a cursor.
func (r *Relay) Epoch() types.Epoch {
	return r.dispatcher.Epoch()
}

// Connect registers a transport and starts its flush goroutine.
func (r *Relay) Connect(t Transport) *Conn {
	c := newConn(t)
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	metrics.RelayConnections.Inc()

	go r.flushLoop(c)
	r.logger.Debug("connection opened", "conn", c.ID)
	return c
}

// Disconnect tears down c: the subscription is cancelled, buffered events
// are discarded and the flush goroutine exits. It is safe to call twice.
func (r *Relay) Disconnect(c *Conn) {
	r.mu.Lock()
	_, registered := r.conns[c.ID]
	delete(r.conns, c.ID)
	r.mu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.cancel = nil
	c.pending = nil
	c.queue = nil
	if c.draining {
		c.draining = false
		metrics.RelayDraining.Dec()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(c.done)
	<-c.flushDone
	if registered {
		metrics.RelayConnections.Dec()
	}
	r.logger.Debug("connection closed", "conn", c.ID)
}

// Subscribe points c at sessionID, replacing any previous subscription.
// Events with seq > cursor are replayed first; a cursor of 0 replays the
// whole session. Global events are included.
func (r *Relay) Subscribe(c *Conn, sessionID types.SessionID, cursor int64) {
	c.mu.Lock()
	if c.closed || c.failed {
		c.mu.Unlock()
		return
	}
	prev := c.cancel
	c.cancel = nil
	c.gen++
	gen := c.gen
	c.sessionID = sessionID
	c.pending = nil
	c.queue = nil
	c.mu.Unlock()

	if prev != nil {
		prev()
	}

	filter := func(ev event.Event) bool {
		return ev.SessionID == sessionID || ev.Global()
	}
	if cursor < 0 {
		cursor = 0
	}
	cancel := r.log.Watch(filter, cursor, func(ev event.Event) { c.deliver(gen, ev) })

	c.mu.Lock()
	if c.closed || c.failed || c.gen != gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	r.logger.Debug("subscribed", "conn", c.ID, "session", sessionID, "cursor", cursor)
}

// Resume attaches a (re)connecting client to sessionID. A discovered but
// unloaded session is loaded first. With a matching epoch only events after
// lastSeq are replayed; otherwise the whole session is.
func (r *Relay) Resume(ctx context.Context, c *Conn, sessionID types.SessionID, epoch types.Epoch, lastSeq int64) error {
	if s, ok := r.registry.Session(sessionID); ok && !s.Loaded {
		if err := r.dispatcher.Dispatch(ctx, sessionID, command.LoadSession{}); err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
	}

	var cursor int64
	if epoch != "" && epoch == r.Epoch() && lastSeq > 0 {
		cursor = lastSeq
	}
	r.SendSessionList(c)
	r.Subscribe(c, sessionID, cursor)
	return nil
}

// Send writes ev to c, or queues it while c is draining.
func (r *Relay) Send(c *Conn, ev event.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode event", "seq", ev.Seq, "type", ev.Type, "error", err)
		metrics.RelayDroppedTotal.WithLabelValues("encode").Inc()
		return
	}
	r.send(c, msg)
}

func (r *Relay) send(c *Conn, msg []byte) {
	c.mu.Lock()
	if c.closed || c.failed {
		c.mu.Unlock()
		return
	}
	if c.draining {
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
		return
	}

	switch c.transport.TrySend(msg) {
	case Sent:
		c.mu.Unlock()
	case Backpressure:
		c.draining = true
		metrics.RelayDraining.Inc()
		c.mu.Unlock()
	default:
		r.abandon(c, 1)
	}
}

// Drain resends queued messages in order. It runs when the transport is
// writable again and leaves the draining state only once the queue empties
// without hitting backpressure.
func (r *Relay) Drain(c *Conn) {
	c.mu.Lock()
	if c.closed || c.failed || !c.draining {
		c.mu.Unlock()
		return
	}
	for len(c.queue) > 0 {
		switch c.transport.TrySend(c.queue[0]) {
		case Sent:
			c.queue[0] = nil
			c.queue = c.queue[1:]
		case Backpressure:
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return
		default:
			r.abandon(c, 0)
			return
		}
	}
	c.queue = nil
	c.draining = false
	metrics.RelayDraining.Dec()
	c.mu.Unlock()
}

// abandon handles a hard transport failure: the queue is discarded and the
// subscription cancelled. extra counts a rejected message that was never
// queued. Called with c.mu held; returns with it released.
func (r *Relay) abandon(c *Conn, extra int) {
	lost := len(c.queue) + len(c.pending) + extra
	c.failed = true
	c.queue = nil
	c.pending = nil
	if c.draining {
		c.draining = false
		metrics.RelayDraining.Dec()
	}
	cancel := c.cancel
	c.cancel = nil
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.RelayDroppedTotal.WithLabelValues("transport").Add(float64(lost))
	r.logger.Warn("transport dropped write, unsubscribing", "conn", c.ID, "lost", lost)
	if err := c.transport.Close(); err != nil {
		r.logger.Debug("close transport", "conn", c.ID, "error", err)
	}
}

// SendSessionList sends the current session list snapshot to c.
func (r *Relay) SendSessionList(c *Conn) {
	msg, err := json.Marshal(r.registry.SessionList())
	if err != nil {
		r.logger.Error("encode session list", "error", err)
		return
	}
	r.send(c, msg)
}

// BroadcastSessionList sends one snapshot to every connection.
func (r *Relay) BroadcastSessionList() {
	msg, err := json.Marshal(r.registry.SessionList())
	if err != nil {
		r.logger.Error("encode session list", "error", err)
		return
	}
	for _, c := range r.Conns() {
		r.send(c, msg)
	}
}

// Conns returns a snapshot of the registered connections.
func (r *Relay) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Close disconnects everyone and stops the broadcaster.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.listCancel()
		close(r.done)
		r.wg.Wait()
		for _, c := range r.Conns() {
			r.Disconnect(c)
		}
	})
}

func (r *Relay) flushLoop(c *Conn) {
	defer close(c.flushDone)
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			for _, ev := range c.takePending() {
				r.Send(c, ev)
			}
		}
	}
}

func (r *Relay) broadcastLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.listDirty:
			r.BroadcastSessionList()
		}
	}
}
