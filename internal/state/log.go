// internal/state/log.go
package state

import (
	"slices"
	"sync"
	"time"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/metrics"
	"github.com/user/agentloom/internal/types"
)

// Subscriber receives events in seq order. It runs with the log locked and
// must not call back into the log.
type Subscriber func(event.Event)

// Filter selects the events a watcher is interested in. A nil Filter
// matches everything.
type Filter func(event.Event) bool

type subscription struct {
	id      int
	fn      Subscriber
	replays bool
}

// EventLog is the in-memory, append-only source of truth. Seq values are
// assigned once, at append time, from a single counter shared by all
// sessions.
type EventLog struct {
	mu     sync.Mutex
	events []event.Event
	seq    int64
	subs   []subscription
	nextID int
	now    func() time.Time
}

// LogOption configures an EventLog.
type LogOption func(*EventLog)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) LogOption {
	return func(l *EventLog) { l.now = now }
}

// NewEventLog creates an empty event log.
func NewEventLog(opts ...LogOption) *EventLog {
	l := &EventLog{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a session event and notifies subscribers synchronously.
func (l *EventLog) Append(sessionID types.SessionID, p event.Payload) event.Event {
	return l.append(sessionID, p, true, "live")
}

// AppendReplay records an event reconstructed from an external transcript.
// Only Fold subscribers see it, so read models stay complete while nothing
// else treats it as new.
func (l *EventLog) AppendReplay(sessionID types.SessionID, p event.Payload) event.Event {
	return l.append(sessionID, p, false, "replay")
}

// AppendGlobal records a session-less event and notifies subscribers.
func (l *EventLog) AppendGlobal(p event.Payload) event.Event {
	return l.append("", p, true, "global")
}

func (l *EventLog) append(sessionID types.SessionID, p event.Payload, notify bool, mode string) event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev := event.Event{
		Type:      p.EventType(),
		Seq:       l.seq,
		Timestamp: l.now(),
		SessionID: sessionID,
		Payload:   p,
	}
	l.events = append(l.events, ev)
	metrics.EventsAppendedTotal.WithLabelValues(string(ev.Type), mode).Inc()

	for _, s := range l.subs {
		if notify || s.replays {
			s.fn(ev)
		}
	}
	return ev
}

// All returns a copy of every event.
func (l *EventLog) All() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// BySession returns a copy of the events recorded for one session.
func (l *EventLog) BySession(id types.SessionID) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, ev := range l.events {
		if ev.SessionID == id {
			out = append(out, ev)
		}
	}
	return out
}

// From returns a copy of the events with seq >= n.
func (l *EventLog) From(n int64) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	// seq starts at 1 with no gaps, so seq n lives at index n-1.
	idx := int(n - 1)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.events) {
		return nil
	}
	return slices.Clone(l.events[idx:])
}

// LastSeq returns the seq of the newest event, or 0 for an empty log.
func (l *EventLog) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Subscribe registers fn for future live and global appends.
func (l *EventLog) Subscribe(fn Subscriber) (cancel func()) {
	return l.Watch(nil, -1, fn)
}

// Watch delivers the existing events matching filter with seq > afterSeq
// to fn, then subscribes fn to future matching appends. Both happen under
// one lock, so fn sees no gap and no duplicate between history and live
// events. An afterSeq below zero skips the history.
func (l *EventLog) Watch(filter Filter, afterSeq int64, fn Subscriber) (cancel func()) {
	return l.watch(filter, afterSeq, fn, false)
}

// Fold delivers every existing event to fn and then every future append,
// replayed ones included. Read models use it so a model built at startup
// and one built later fold the same events.
func (l *EventLog) Fold(fn Subscriber) (cancel func()) {
	return l.watch(nil, 0, fn, true)
}

func (l *EventLog) watch(filter Filter, afterSeq int64, fn Subscriber, replays bool) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if afterSeq >= 0 {
		for _, ev := range l.events {
			if ev.Seq > afterSeq && (filter == nil || filter(ev)) {
				fn(ev)
			}
		}
	}

	l.nextID++
	id := l.nextID
	wrapped := fn
	if filter != nil {
		wrapped = func(ev event.Event) {
			if filter(ev) {
				fn(ev)
			}
		}
	}
	l.subs = append(l.subs, subscription{id: id, fn: wrapped, replays: replays})

	var once sync.Once
	return func() {
		once.Do(func() { l.unsubscribe(id) })
	}
}

func (l *EventLog) unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = slices.DeleteFunc(l.subs, func(s subscription) bool { return s.id == id })
}
