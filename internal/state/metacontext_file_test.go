// internal/state/metacontext_file_test.go
package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/user/agentloom/internal/types"
)

func TestMetaContextFileRoundTrip(t *testing.T) {
	f := NewMetaContextFile(filepath.Join(t.TempDir(), "state", "metacontexts.json"))

	list, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list from missing file, got %d", len(list))
	}

	want := []types.MetaContext{
		{ID: "m1", Name: "Feature X", SessionIDs: []types.SessionID{"s1", "s2"}},
	}
	if err := f.Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMetaContextFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metacontexts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetaContextFile(path).Load(); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
