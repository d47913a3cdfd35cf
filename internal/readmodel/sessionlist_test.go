package readmodel

import (
	"testing"
	"time"

	"github.com/user/agentloom/internal/event"
)

func TestBuildSortsNewestFirst(t *testing.T) {
	same := t0.Add(time.Minute)
	sessions := Sessions{
		"a": {SessionID: "a", CreatedAt: t0},
		"c": {SessionID: "c", CreatedAt: same},
		"b": {SessionID: "b", CreatedAt: same},
		"d": {SessionID: "d", CreatedAt: t0.Add(time.Hour)},
	}
	list := Build(sessions, NewMetaContexts(nil))

	var order []string
	for _, s := range list.Sessions {
		order = append(order, string(s.SessionID))
	}
	want := []string{"d", "b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if list.Seq != -1 || list.Type != SessionListType {
		t.Errorf("unexpected envelope: type=%q seq=%d", list.Type, list.Seq)
	}
	if list.MetaContexts == nil {
		t.Error("metaContexts should encode as an empty array")
	}
}

func TestIsSessionAffecting(t *testing.T) {
	affecting := map[event.Type]bool{
		event.TypeSessionCreated:            true,
		event.TypeSessionDiscovered:         true,
		event.TypePromptSubmitted:           true,
		event.TypeSessionInfoUpdated:        true,
		event.TypeMetaContextEnsured:        true,
		event.TypeSessionAddedToMetaContext: true,
		event.TypeSessionLoaded:             false,
		event.TypeSessionSwitched:           false,
		event.TypeAgentText:                 false,
		event.TypeFileListUpdated:           false,
	}
	for typ, want := range affecting {
		if got := IsSessionAffecting(typ); got != want {
			t.Errorf("IsSessionAffecting(%s) = %v, want %v", typ, got, want)
		}
	}
}
