// internal/state/transcript_test.go
package state

import (
	"context"
	"testing"
	"time"

	"github.com/user/agentloom/internal/types"
)

func TestTranscriptStore(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	ctx := context.Background()

	id := types.NewSessionID()

	for _, text := range []string{"hello", "hi there"} {
		entry := &types.TranscriptEntry{Role: "user", Text: text, At: time.Now()}
		if err := store.Append(ctx, id, entry); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Tail(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Errorf("expected seq 1,2 got %d,%d", entries[0].Seq, entries[1].Seq)
	}

	last, err := store.Tail(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Text != "hi there" {
		t.Errorf("unexpected tail: %+v", last)
	}

	count, err := store.Count(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestTranscriptStoreMissingSession(t *testing.T) {
	store := NewTranscriptStore(t.TempDir())
	entries, err := store.Tail(context.Background(), "missing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
