package readmodel

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(seq int64, id types.SessionID, p event.Payload) event.Event {
	return event.Event{
		Type:      p.EventType(),
		Seq:       seq,
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
		SessionID: id,
		Payload:   p,
	}
}

func fold[S any](initial S, reduce func(S, event.Event) S, events ...event.Event) S {
	s := initial
	for _, e := range events {
		s = reduce(s, e)
	}
	return s
}

func TestReduceSessionsLifecycle(t *testing.T) {
	discoveredAt := t0.Add(-time.Hour)
	got := fold(Sessions{}, ReduceSessions,
		ev(1, "s1", event.SessionCreated{}),
		ev(2, "s2", event.SessionDiscovered{Name: "old", Title: "Old work", CreatedAt: discoveredAt}),
		ev(3, "s1", event.PromptSubmitted{Text: "first"}),
		ev(4, "s1", event.PromptSubmitted{Text: "second"}),
		ev(5, "s1", event.SessionInfoUpdated{Title: "Refactor"}),
		ev(6, "s1", event.SessionInfoUpdated{}),
		ev(7, "s2", event.SessionLoaded{}),
		ev(8, "s3", event.SessionLoaded{}),
		ev(9, "s3", event.PromptSubmitted{Text: "orphan"}),
	)

	want := Sessions{
		"s1": {SessionID: "s1", Title: "Refactor", FirstPrompt: "first", Loaded: true, CreatedAt: t0.Add(time.Second)},
		"s2": {SessionID: "s2", Name: "old", Title: "Old work", Loaded: true, CreatedAt: discoveredAt},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestReduceSessionsDiscoveredStaysUnloaded(t *testing.T) {
	got := fold(Sessions{}, ReduceSessions,
		ev(1, "s2", event.SessionDiscovered{Name: "old"}),
		ev(2, "s2", event.SessionDiscovered{Name: "renamed"}),
	)
	s := got["s2"]
	if s.Loaded {
		t.Error("discovered session should not be loaded")
	}
	if s.Name != "old" {
		t.Errorf("rediscovery overwrote name: %q", s.Name)
	}
	if !s.CreatedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("expected event timestamp as createdAt, got %v", s.CreatedAt)
	}
}

func TestReduceSessionsCopyOnWrite(t *testing.T) {
	before := ReduceSessions(Sessions{}, ev(1, "s1", event.SessionCreated{}))
	after := ReduceSessions(before, ev(2, "s1", event.PromptSubmitted{Text: "hi"}))

	if before["s1"].FirstPrompt != "" {
		t.Error("reducer mutated its input")
	}
	if after["s1"].FirstPrompt != "hi" {
		t.Error("expected first prompt on new state")
	}

	same := ReduceSessions(after, ev(3, "s1", event.AgentText{Text: "x"}))
	if len(same) != len(after) || same["s1"] != after["s1"] {
		t.Error("unrelated event changed the registry")
	}
}

func TestReduceLatest(t *testing.T) {
	got := fold(types.SessionID(""), ReduceLatest,
		ev(1, "s1", event.SessionCreated{}),
		ev(2, "s2", event.SessionCreated{}),
		ev(3, "s1", event.SessionSwitched{Epoch: "e"}),
		ev(4, "s2", event.PromptSubmitted{Text: "x"}),
	)
	if got != "s1" {
		t.Errorf("expected s1, got %q", got)
	}
}
