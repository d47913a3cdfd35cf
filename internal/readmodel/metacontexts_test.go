package readmodel

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

func TestReduceMetaContextsOnlyCreatedCreates(t *testing.T) {
	got := fold(NewMetaContexts(nil), ReduceMetaContexts,
		ev(1, "o1", event.MetaContextEnsured{MetaContextID: "m1", Name: "Feature X", Created: false}),
	)
	if got.Len() != 0 {
		t.Fatalf("created=false must not create, got %d entries", got.Len())
	}

	got = fold(got, ReduceMetaContexts,
		ev(2, "o1", event.MetaContextEnsured{MetaContextID: "m1", Name: "Feature X", Created: true}),
		ev(3, "o1", event.MetaContextEnsured{MetaContextID: "m2", Name: "Feature X", Created: true}),
	)
	if got.Len() != 1 {
		t.Fatalf("expected one meta-context per name, got %d", got.Len())
	}
	mc, ok := got.ByName("Feature X")
	if !ok || mc.ID != "m1" {
		t.Errorf("expected Feature X -> m1, got %+v (ok=%v)", mc, ok)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}

func TestReduceMetaContextsAddIsIdempotent(t *testing.T) {
	got := fold(NewMetaContexts(nil), ReduceMetaContexts,
		ev(1, "o1", event.MetaContextEnsured{MetaContextID: "m1", Name: "X", Created: true}),
		ev(2, "s1", event.SessionAddedToMetaContext{MetaContextID: "m1"}),
		ev(3, "s2", event.SessionAddedToMetaContext{MetaContextID: "m1"}),
		ev(4, "s1", event.SessionAddedToMetaContext{MetaContextID: "m1"}),
		ev(5, "s3", event.SessionAddedToMetaContext{MetaContextID: "unknown"}),
	)
	want := []types.MetaContext{{ID: "m1", Name: "X", SessionIDs: []types.SessionID{"s1", "s2"}}}
	if diff := cmp.Diff(want, got.List()); diff != "" {
		t.Errorf("meta-contexts mismatch (-want +got):\n%s", diff)
	}
}

func TestMetaContextsCopyOnWrite(t *testing.T) {
	base := NewMetaContexts([]types.MetaContext{{ID: "m1", Name: "X", SessionIDs: []types.SessionID{"s1"}}})
	next := ReduceMetaContexts(base, ev(1, "s2", event.SessionAddedToMetaContext{MetaContextID: "m1"}))

	old, _ := base.Get("m1")
	if len(old.SessionIDs) != 1 {
		t.Errorf("reducer mutated its input: %v", old.SessionIDs)
	}
	cur, _ := next.Get("m1")
	if len(cur.SessionIDs) != 2 {
		t.Errorf("expected two sessions, got %v", cur.SessionIDs)
	}

	cur.SessionIDs[0] = "tampered"
	again, _ := next.Get("m1")
	if again.SessionIDs[0] != "s1" {
		t.Error("Get returned shared slice")
	}
}

func TestNewMetaContextsSkipsDuplicates(t *testing.T) {
	m := NewMetaContexts([]types.MetaContext{
		{ID: "m1", Name: "X"},
		{ID: "m1", Name: "Y"},
		{ID: "m2", Name: "X"},
		{ID: "m3", Name: "Z"},
	})
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if _, ok := m.ByName("Y"); ok {
		t.Error("duplicate id should be skipped")
	}
}
