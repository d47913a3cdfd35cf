// internal/state/log_test.go
package state

import (
	"sync"
	"testing"
	"time"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestEventLogAssignsGaplessSeq(t *testing.T) {
	log := NewEventLog(WithClock(fixedClock()))

	log.Append("s1", event.SessionCreated{})
	log.Append("s2", event.SessionCreated{})
	log.AppendGlobal(event.FileListUpdated{Files: []string{"a"}})
	log.AppendReplay("s1", event.AgentText{Text: "old"})
	log.Append("s1", event.PromptSubmitted{Text: "hi"})

	all := log.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i, ev := range all {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
		if i > 0 && !ev.Timestamp.After(all[i-1].Timestamp) {
			t.Errorf("event %d: timestamp not increasing", i)
		}
	}
	if all[2].SessionID != "" {
		t.Errorf("global event should have no session, got %q", all[2].SessionID)
	}
	if log.LastSeq() != 5 {
		t.Errorf("expected last seq 5, got %d", log.LastSeq())
	}
}

func TestEventLogConcurrentAppends(t *testing.T) {
	log := NewEventLog()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Append(types.SessionID("s"), event.AgentText{Text: "x"})
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, ev := range log.All() {
		if seen[ev.Seq] {
			t.Fatalf("duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
	}
	for i := int64(1); i <= 400; i++ {
		if !seen[i] {
			t.Fatalf("missing seq %d", i)
		}
	}
}

func TestEventLogReplaySkipsSubscribers(t *testing.T) {
	log := NewEventLog()
	var got []int64
	cancel := log.Subscribe(func(ev event.Event) { got = append(got, ev.Seq) })
	defer cancel()

	for i := 0; i < 3; i++ {
		log.AppendReplay("s1", event.AgentText{Text: "replayed"})
	}
	log.Append("s1", event.AgentText{Text: "live"})

	if len(got) != 1 || got[0] != 4 {
		t.Errorf("expected only the live event (seq 4), got %v", got)
	}
	if n := len(log.BySession("s1")); n != 4 {
		t.Errorf("expected 4 stored events, got %d", n)
	}
}

func TestEventLogReadsReturnCopies(t *testing.T) {
	log := NewEventLog()
	log.Append("s1", event.AgentText{Text: "a"})
	log.Append("s2", event.AgentText{Text: "b"})
	log.Append("s1", event.AgentText{Text: "c"})

	all := log.All()
	all[0].Seq = 99

	if log.All()[0].Seq != 1 {
		t.Error("mutating All() result changed the log")
	}

	bySession := log.BySession("s1")
	if len(bySession) != 2 || bySession[1].Seq != 3 {
		t.Errorf("unexpected BySession result: %+v", bySession)
	}
	bySession[0].SessionID = "other"
	if log.BySession("s1")[0].SessionID != "s1" {
		t.Error("mutating BySession() result changed the log")
	}

	from := log.From(2)
	if len(from) != 2 || from[0].Seq != 2 {
		t.Errorf("expected From(2) to be inclusive, got %+v", from)
	}
	if len(log.From(10)) != 0 {
		t.Error("expected empty result past the end")
	}
	if len(log.From(0)) != 3 {
		t.Error("expected From(0) to return everything")
	}
}

func TestEventLogWatchBacklogThenLive(t *testing.T) {
	log := NewEventLog()
	log.Append("s1", event.AgentText{Text: "1"})
	log.Append("s2", event.AgentText{Text: "2"})
	log.Append("s1", event.AgentText{Text: "3"})

	var got []int64
	onlyS1 := func(ev event.Event) bool { return ev.SessionID == "s1" }
	cancel := log.Watch(onlyS1, 1, func(ev event.Event) { got = append(got, ev.Seq) })

	log.Append("s2", event.AgentText{Text: "4"})
	log.Append("s1", event.AgentText{Text: "5"})
	cancel()
	log.Append("s1", event.AgentText{Text: "6"})

	want := []int64{3, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// cancel is idempotent
	cancel()
}
