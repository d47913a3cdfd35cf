package delivery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryBindAndLookup(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Lookup("telegram:1:1"); ok {
		t.Fatal("expected no binding")
	}
	if err := reg.Bind("telegram:1:1", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Bind("telegram:1:1", "s2"); err != nil {
		t.Fatal(err)
	}
	id, ok := reg.Lookup("telegram:1:1")
	if !ok || id != "s2" {
		t.Fatalf("expected s2, got %q (ok=%v)", id, ok)
	}

	if err := reg.Unbind("telegram:1:1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Lookup("telegram:1:1"); ok {
		t.Fatal("expected binding removed")
	}
}

func TestRegistryKeys(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("telegram:2:2", "s1")
	reg.Bind("telegram:1:1", "s1")
	reg.Bind("slack:x", "s1")
	reg.Bind("telegram:3:3", "s2")

	if diff := cmp.Diff([]string{"telegram:1:1", "telegram:2:2"}, reg.Keys("s1", "telegram:")); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if got := reg.Keys("s1", ""); len(got) != 3 {
		t.Errorf("expected 3 keys for any prefix, got %v", got)
	}
	if got := reg.Keys("s9", ""); got != nil {
		t.Errorf("expected no keys, got %v", got)
	}
}

func TestRegistryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bindings.json")

	reg, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Bind("telegram:1:1", "s1"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if id, ok := reopened.Lookup("telegram:1:1"); !ok || id != "s1" {
		t.Fatalf("expected persisted binding, got %q (ok=%v)", id, ok)
	}
}

func TestOpenInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}
