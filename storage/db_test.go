package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := db.WriteBatch([]Entry{
		{Key: []byte("a/3"), Value: []byte("three")},
		{Key: []byte("a/2"), Value: []byte("two")},
		{Key: []byte("b/1"), Value: []byte("other")},
	})
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	var seen []string
	err = db.Iterate([]byte("a/"), func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"a/1=one", "a/2=two", "a/3=three"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected iteration %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("iteration order: got %v want %v", seen, want)
		}
	}
	stop := errors.New("stop")
	if err := db.Iterate([]byte("a/"), func([]byte, []byte) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
