package storage

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *VersionedStore {
	t.Helper()
	s, err := Open(NewMemoryKV())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func commitOne(t *testing.T, s *VersionedStore, kvs map[string]string) {
	t.Helper()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	for k, v := range kvs {
		if err := s.Write([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestVersionedStoreEmpty(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.Latest(); ok {
		t.Error("Latest on empty store reports a version")
	}
	if _, err := s.Read([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Commit(); !errors.Is(err, ErrNoPending) {
		t.Errorf("Commit without Begin: got %v, want ErrNoPending", err)
	}
	if err := s.Write([]byte("k"), []byte("v")); !errors.Is(err, ErrNoPending) {
		t.Errorf("Write without Begin: got %v, want ErrNoPending", err)
	}
}

func TestVersionedStoreCommit(t *testing.T) {
	s := newTestStore(t)

	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Write([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}

	// Pending writes shadow the head before Commit.
	val, err := s.Read([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(val, []byte("1")) {
		t.Errorf("pending Read = %s, want 1", val)
	}

	root, err := s.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if root == EmptyRoot {
		t.Error("commit with writes produced the empty commitment")
	}

	latest, ok := s.Latest()
	if !ok || latest != 0 {
		t.Errorf("Latest = (%d, %t), want (0, true)", latest, ok)
	}
	got, err := s.Root(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("Root(0) = %s, want %s", got, root)
	}
}

func TestVersionedStoreBeginTwice(t *testing.T) {
	s := newTestStore(t)
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(); !errors.Is(err, ErrPendingActive) {
		t.Errorf("second Begin: got %v, want ErrPendingActive", err)
	}
}

func TestVersionedStoreDiscard(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"a": "1"})

	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Write([]byte("a"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	s.Discard()

	val, err := s.Read([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(val, []byte("1")) {
		t.Errorf("Read after Discard = %s, want 1", val)
	}
	latest, _ := s.Latest()
	if latest != 0 {
		t.Errorf("Discard advanced the version to %d", latest)
	}
}

func TestVersionedStoreDelete(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"a": "1", "b": "2"})

	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("pending delete not visible: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Read([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key resolves at head: %v", err)
	}

	// The old version still sees it.
	h, err := s.OpenAt(0)
	if err != nil {
		t.Fatal(err)
	}
	val, err := h.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(val, []byte("1")) {
		t.Errorf("historical Get = %s, want 1", val)
	}
}

func TestVersionedStoreHistoricalReads(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v0"})
	commitOne(t, s, map[string]string{"k": "v1"})
	commitOne(t, s, map[string]string{"other": "x"})

	for version, want := range map[uint64]string{0: "v0", 1: "v1", 2: "v1"} {
		h, err := s.OpenAt(version)
		if err != nil {
			t.Fatal(err)
		}
		val, err := h.Get([]byte("k"))
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		if string(val) != want {
			t.Errorf("version %d: k = %s, want %s", version, val, want)
		}
	}
}

func TestVersionedStoreOpenAtIdempotent(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v0"})
	commitOne(t, s, map[string]string{"k": "v1"})

	h, err := s.OpenAt(0)
	if err != nil {
		t.Fatal(err)
	}
	root0, err := h.Root()
	if err != nil {
		t.Fatal(err)
	}

	// New commits on top never change what the view reports.
	commitOne(t, s, map[string]string{"k": "v2"})
	commitOne(t, s, map[string]string{"k": "v3"})

	again, err := h.Root()
	if err != nil {
		t.Fatal(err)
	}
	if again != root0 {
		t.Errorf("view root changed: %s -> %s", root0, again)
	}
	val, err := h.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v0" {
		t.Errorf("view Get = %s, want v0", val)
	}
}

func TestVersionedStoreOpenAtUnknown(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v"})

	if _, err := s.OpenAt(7); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("OpenAt(7): got %v, want ErrUnknownVersion", err)
	}
	if _, err := s.Root(7); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("Root(7): got %v, want ErrUnknownVersion", err)
	}
}

func TestVersionedStoreViewIgnoresPending(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v0"})

	h, err := s.OpenAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Write([]byte("k"), []byte("dirty")); err != nil {
		t.Fatal(err)
	}

	val, err := h.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v0" {
		t.Errorf("view observed pending write: %s", val)
	}
}

func TestVersionedStoreCommitDeterministic(t *testing.T) {
	// Two stores fed the same writes in different orders converge on the
	// same commitment.
	a := newTestStore(t)
	b := newTestStore(t)

	a.Begin()
	a.Write([]byte("x"), []byte("1"))
	a.Write([]byte("y"), []byte("2"))
	rootA, err := a.Commit()
	if err != nil {
		t.Fatal(err)
	}

	b.Begin()
	b.Write([]byte("y"), []byte("2"))
	b.Write([]byte("x"), []byte("1"))
	rootB, err := b.Commit()
	if err != nil {
		t.Fatal(err)
	}

	if rootA != rootB {
		t.Errorf("commitments diverge: %s vs %s", rootA, rootB)
	}
}

func TestVersionedStoreRecovery(t *testing.T) {
	db := NewMemoryKV()
	s, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	s.Begin()
	s.Write([]byte("k"), []byte("v"))
	root, err := s.Commit()
	if err != nil {
		t.Fatal(err)
	}

	// Reopen over the same backend.
	s2, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	latest, ok := s2.Latest()
	if !ok || latest != 0 {
		t.Fatalf("recovered Latest = (%d, %t), want (0, true)", latest, ok)
	}
	got, err := s2.Root(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("recovered Root(0) = %s, want %s", got, root)
	}
	val, err := s2.Read([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v" {
		t.Errorf("recovered Read = %s, want v", val)
	}
}

func TestVersionedStoreRecoveryCorrupt(t *testing.T) {
	db := NewMemoryKV()
	s, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	commitOne(t, s, map[string]string{"k": "v"})

	// A meta entry pointing at a version with no root is unrecoverable.
	db.Delete(rootKey(0))
	if _, err := Open(db); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Open over broken backend: got %v, want ErrCorrupted", err)
	}
}

func TestVersionedStoreTruncate(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v0"})
	commitOne(t, s, map[string]string{"k": "v1"})
	commitOne(t, s, map[string]string{"k": "v2"})

	root1, err := s.Root(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Truncate(1); err != nil {
		t.Fatal(err)
	}

	latest, ok := s.Latest()
	if !ok || latest != 1 {
		t.Fatalf("Latest after Truncate = (%d, %t), want (1, true)", latest, ok)
	}
	if _, err := s.Root(2); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("Root(2) survived truncation: %v", err)
	}
	got, err := s.Root(1)
	if err != nil {
		t.Fatal(err)
	}
	if got != root1 {
		t.Errorf("Root(1) changed across truncation")
	}
	val, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v1" {
		t.Errorf("head Read after Truncate = %s, want v1", val)
	}
}

func TestVersionedStoreTruncateThenRecommit(t *testing.T) {
	// Committing after truncation reuses the freed version numbers.
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "a"})
	commitOne(t, s, map[string]string{"k": "b"})

	if err := s.Truncate(0); err != nil {
		t.Fatal(err)
	}
	commitOne(t, s, map[string]string{"k": "c"})

	latest, _ := s.Latest()
	if latest != 1 {
		t.Fatalf("Latest = %d, want 1", latest)
	}
	val, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "c" {
		t.Errorf("Read = %s, want c", val)
	}
}

func TestVersionedStoreTruncateDropsPending(t *testing.T) {
	s := newTestStore(t)
	commitOne(t, s, map[string]string{"k": "v"})

	s.Begin()
	s.Write([]byte("k"), []byte("dirty"))
	if err := s.Truncate(0); err != nil {
		t.Fatal(err)
	}

	val, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v" {
		t.Errorf("pending write survived truncation: %s", val)
	}
	if err := s.Begin(); err != nil {
		t.Errorf("Begin after Truncate: %v", err)
	}
}

func TestVersionedStorePruning(t *testing.T) {
	s, err := OpenWithConfig(NewMemoryKV(), Config{Retain: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		commitOne(t, s, map[string]string{"k": fmt.Sprintf("v%d", i)})
	}

	// Versions below latest-Retain are gone.
	if _, err := s.OpenAt(1); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("pruned version still opens: %v", err)
	}

	// Retained versions still resolve, including keys last written
	// before the cutoff.
	h, err := s.OpenAt(3)
	if err != nil {
		t.Fatal(err)
	}
	val, err := h.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v3" {
		t.Errorf("retained Get = %s, want v3", val)
	}
}

func TestVersionedStorePruningKeepsStaleKeys(t *testing.T) {
	s, err := OpenWithConfig(NewMemoryKV(), Config{Retain: 1})
	if err != nil {
		t.Fatal(err)
	}
	// "old" is written once and never again; pruning must keep its last
	// entry alive for retained versions.
	commitOne(t, s, map[string]string{"old": "keep"})
	for i := 0; i < 4; i++ {
		commitOne(t, s, map[string]string{"churn": fmt.Sprintf("%d", i)})
	}

	val, err := s.Read([]byte("old"))
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "keep" {
		t.Errorf("Read(old) = %s, want keep", val)
	}
}
