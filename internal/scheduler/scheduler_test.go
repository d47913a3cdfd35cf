package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type submission struct {
	ID   types.SessionID
	Text string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	got  []submission
	fail error
}

func (f *fakeSubmitter) Submit(ctx context.Context, id types.SessionID, text string, skip bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, submission{ID: id, Text: text})
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newStore(t *testing.T, tasks ...*state.Task) *state.TaskStore {
	t.Helper()
	store := state.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	for _, task := range tasks {
		if err := store.Add(task); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestSchedulerFiresTask(t *testing.T) {
	store := newStore(t, &state.Task{
		Name:      "every-second",
		Prompt:    "do something every second",
		Schedule:  "* * * * * *",
		SessionID: "s1",
		Enabled:   true,
	})
	sub := &fakeSubmitter{}
	sched := New(store, sub)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("task did not fire within 2.5s")
		case <-ticker.C:
			if sub.count() > 0 {
				sub.mu.Lock()
				first := sub.got[0]
				sub.mu.Unlock()
				if diff := cmp.Diff(submission{ID: "s1", Text: "do something every second"}, first); diff != "" {
					t.Errorf("submission (-want +got):\n%s", diff)
				}
				return
			}
		}
	}
}

func TestSchedulerRegistersOnlyRunnableTasks(t *testing.T) {
	store := newStore(t,
		&state.Task{Name: "hourly", Prompt: "p", Schedule: "@hourly", SessionID: "s1", Enabled: true},
		&state.Task{Name: "disabled", Prompt: "p", Schedule: "* * * * * *", SessionID: "s1", Enabled: false},
		&state.Task{Name: "webhook-only", Prompt: "p", SessionID: "s1", Enabled: true},
		&state.Task{Name: "broken", Prompt: "p", Schedule: "not a schedule", SessionID: "s1", Enabled: true},
	)
	sched := New(store, &fakeSubmitter{})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	entries := sched.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %+v", entries)
	}
	if entries[0].Name != "hourly" || entries[0].Schedule != "@hourly" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestSchedulerReload(t *testing.T) {
	store := newStore(t)
	sched := New(store, &fakeSubmitter{})
	if err := sched.Reload(); err == nil {
		t.Fatal("reload before start should fail")
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()
	if n := len(sched.Entries()); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}

	store.Add(&state.Task{Name: "daily", Prompt: "p", Schedule: "@daily", SessionID: "s1", Enabled: true})
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}
	if n := len(sched.Entries()); n != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", n)
	}
}

func TestFire(t *testing.T) {
	store := newStore(t,
		&state.Task{Name: "pinned", Prompt: "to s1", SessionID: "s1", Enabled: true},
		&state.Task{Name: "floating", Prompt: "to latest", Enabled: true},
		&state.Task{Name: "off", Prompt: "never", SessionID: "s1", Enabled: false},
	)
	sub := &fakeSubmitter{}
	sched := New(store, sub, WithLatest(func() types.SessionID { return "s9" }))
	ctx := context.Background()

	if err := sched.Fire(ctx, "pinned"); err != nil {
		t.Fatal(err)
	}
	if err := sched.Fire(ctx, "floating"); err != nil {
		t.Fatal(err)
	}
	if err := sched.Fire(ctx, "off"); err == nil {
		t.Error("expected error firing disabled task")
	}
	if err := sched.Fire(ctx, "missing"); err == nil {
		t.Error("expected error firing unknown task")
	}

	want := []submission{{ID: "s1", Text: "to s1"}, {ID: "s9", Text: "to latest"}}
	if diff := cmp.Diff(want, sub.got); diff != "" {
		t.Errorf("submissions (-want +got):\n%s", diff)
	}
}

func TestFireWithoutSession(t *testing.T) {
	store := newStore(t, &state.Task{Name: "floating", Prompt: "p", Enabled: true})
	sched := New(store, &fakeSubmitter{})
	if err := sched.Fire(context.Background(), "floating"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFireWrapsSubmitError(t *testing.T) {
	boom := errors.New("boom")
	store := newStore(t, &state.Task{Name: "t", Prompt: "p", SessionID: "s1", Enabled: true})
	sched := New(store, &fakeSubmitter{fail: boom})
	if err := sched.Fire(context.Background(), "t"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped submit error, got %v", err)
	}
}

func TestWatchReloadsOnTaskFileChange(t *testing.T) {
	store := newStore(t)
	sched := New(store, &fakeSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	done := make(chan error, 1)
	go func() { done <- sched.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch: %v", err)
		}
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := store.Add(&state.Task{Name: "hourly", Prompt: "p", Schedule: "@hourly", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(sched.Entries()) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("scheduler did not pick up the new task, entries=%v", sched.Entries())
}
