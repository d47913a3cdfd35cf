package readmodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

func TestModelsPersistMetaContexts(t *testing.T) {
	file := state.NewMetaContextFile(filepath.Join(t.TempDir(), "meta-contexts.json"))
	log := state.NewEventLog()
	m, err := New(log, file, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	log.Append("o1", event.MetaContextEnsured{MetaContextID: "m1", Name: "Feature X", Created: true})
	log.Append("s1", event.SessionCreated{})
	log.Append("s1", event.SessionAddedToMetaContext{MetaContextID: "m1"})

	saved, err := file.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Name != "Feature X" || len(saved[0].SessionIDs) != 1 {
		t.Fatalf("unexpected persisted meta-contexts: %+v", saved)
	}

	// A fresh process hydrates from the file.
	m2, err := New(state.NewEventLog(), file, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	mc, ok := m2.MetaContextByName("Feature X")
	if !ok || mc.ID != "m1" || mc.SessionIDs[0] != "s1" {
		t.Errorf("hydration failed: %+v (ok=%v)", mc, ok)
	}
}

func TestModelsSkipWriteWithoutChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta-contexts.json")
	file := state.NewMetaContextFile(path)
	log := state.NewEventLog()
	m, err := New(log, file, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	log.Append("o1", event.MetaContextEnsured{MetaContextID: "m1", Name: "X", Created: false})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file for an unchanged registry, stat err=%v", err)
	}
}

func TestModelsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta-contexts.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(state.NewEventLog(), state.NewMetaContextFile(path), nil); err == nil {
		t.Fatal("expected hydration error")
	}
}

func TestModelsLookups(t *testing.T) {
	log := state.NewEventLog()
	m, err := New(log, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	log.Append("s1", event.SessionCreated{})
	log.Append("s2", event.SessionDiscovered{Name: "s2"})
	log.Append("s2", event.SessionSwitched{Epoch: "e"})

	if s, ok := m.Session("s1"); !ok || !s.Loaded {
		t.Errorf("expected s1 loaded, got %+v", s)
	}
	if s, ok := m.Session("s2"); !ok || s.Loaded {
		t.Errorf("expected s2 unloaded, got %+v", s)
	}
	if m.LatestSession() != types.SessionID("s2") {
		t.Errorf("expected latest s2, got %q", m.LatestSession())
	}
	if n := len(m.SessionList().Sessions); n != 2 {
		t.Errorf("expected 2 sessions in list, got %d", n)
	}
}

func TestModelsFoldReplayedTranscript(t *testing.T) {
	log := state.NewEventLog()
	m, err := New(log, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	log.Append("s1", event.SessionDiscovered{Name: "s1"})
	log.AppendReplay("s1", event.PromptSubmitted{Text: "from transcript"})
	log.Append("s1", event.SessionLoaded{})

	s, ok := m.Session("s1")
	if !ok || s.FirstPrompt != "from transcript" || !s.Loaded {
		t.Errorf("loaded session meta = %+v", s)
	}

	rebuilt, err := New(log, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rebuilt.Close()
	if r, _ := rebuilt.Session("s1"); r != s {
		t.Errorf("rebuilt meta %+v differs from live %+v", r, s)
	}
}
