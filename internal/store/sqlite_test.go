package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSQLiteAdapterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trellis.db")
	a, err := NewSQLiteAdapter(path)
	if err != nil {
		t.Fatalf("opening adapter: %v", err)
	}
	defer a.Close()

	if err := a.Save("s1", []byte(`{"id":"s1"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Upsert replaces the old state.
	if err := a.Save("s1", []byte(`{"id":"s1","v":2}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := a.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"id":"s1","v":2}`)) {
		t.Errorf("loaded %q", got)
	}

	missing, err := a.Load("missing")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing id, got %q", missing)
	}

	ids, err := a.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("expected [s1], got %v", ids)
	}

	removed, err := a.Delete("s1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !removed {
		t.Error("expected delete to report a removed row")
	}
	removed, err = a.Delete("s1")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if removed {
		t.Error("second delete should report nothing removed")
	}
}
