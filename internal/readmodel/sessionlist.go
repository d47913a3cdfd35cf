package readmodel

import (
	"cmp"
	"slices"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// SessionListType is the wire type of the session list snapshot.
const SessionListType = "SessionList"

// SessionList is the snapshot pushed to every connection when a
// session-affecting event is appended. Seq is always -1 so clients never
// use it as a resume cursor.
type SessionList struct {
	Type         string              `json:"type"`
	Sessions     []SessionMeta       `json:"sessions"`
	MetaContexts []types.MetaContext `json:"metaContexts"`
	Seq          int64               `json:"seq"`
}

// Build computes the session list, newest session first.
func Build(sessions Sessions, metaContexts MetaContexts) SessionList {
	list := make([]SessionMeta, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, s)
	}
	slices.SortFunc(list, func(a, b SessionMeta) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return SessionList{
		Type:         SessionListType,
		Sessions:     list,
		MetaContexts: metaContexts.List(),
		Seq:          -1,
	}
}

// IsSessionAffecting reports whether events of type t change the session list.
func IsSessionAffecting(t event.Type) bool {
	switch t {
	case event.TypeSessionCreated,
		event.TypeSessionDiscovered,
		event.TypePromptSubmitted,
		event.TypeSessionInfoUpdated,
		event.TypeMetaContextEnsured,
		event.TypeSessionAddedToMetaContext:
		return true
	}
	return false
}
