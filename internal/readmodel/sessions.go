// Package readmodel holds the reducers folded over the event log and the
// Models bundle that serves lookups from them.
package readmodel

import (
	"maps"
	"time"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// SessionMeta is the registry entry for one session.
type SessionMeta struct {
	SessionID   types.SessionID `json:"sessionId"`
	Name        string          `json:"name,omitempty"`
	Title       string          `json:"title,omitempty"`
	FirstPrompt string          `json:"firstPrompt,omitempty"`
	Loaded      bool            `json:"loaded"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Sessions is the session registry. A value is never mutated after it is
// returned by ReduceSessions; every change produces a new map.
type Sessions map[types.SessionID]SessionMeta

// ReduceSessions folds session lifecycle events into the registry. Entries
// are created by SessionCreated or SessionDiscovered and never removed.
func ReduceSessions(s Sessions, ev event.Event) Sessions {
	id := ev.SessionID
	if id == "" {
		return s
	}
	cur, known := s[id]

	switch p := ev.Payload.(type) {
	case event.SessionCreated:
		if known && cur.Loaded {
			return s
		}
		if !known {
			cur = SessionMeta{SessionID: id, CreatedAt: ev.Timestamp}
		}
		cur.Loaded = true
	case event.SessionDiscovered:
		if known {
			return s
		}
		cur = SessionMeta{SessionID: id, Name: p.Name, Title: p.Title, CreatedAt: p.CreatedAt}
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = ev.Timestamp
		}
	case event.SessionLoaded:
		if !known || cur.Loaded {
			return s
		}
		cur.Loaded = true
	case event.PromptSubmitted:
		if !known || cur.FirstPrompt != "" {
			return s
		}
		cur.FirstPrompt = p.Text
	case event.SessionInfoUpdated:
		if !known || p.Title == "" || p.Title == cur.Title {
			return s
		}
		cur.Title = p.Title
	default:
		return s
	}

	next := maps.Clone(s)
	if next == nil {
		next = make(Sessions, 1)
	}
	next[id] = cur
	return next
}
