package readmodel

import (
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// ReduceLatest tracks the most recently created or switched-to session.
func ReduceLatest(cur types.SessionID, ev event.Event) types.SessionID {
	switch ev.Payload.(type) {
	case event.SessionCreated, event.SessionSwitched:
		return ev.SessionID
	default:
		return cur
	}
}
