package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func entry(i int) Entry {
	return Entry{
		Time:     time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Kind:     "cell_update",
		TableID:  "t1",
		ID:       "r" + string(rune('a'+i)),
		State:    "committed",
		Attempts: 1,
	}
}

func TestAppendReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.jsonl")
	l, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := l.Recent(10); len(got) != 0 {
		t.Fatalf("Recent() = %v", got)
	}
	for i := range 3 {
		if err := l.Append(entry(i)); err != nil {
			t.Fatal(err)
		}
	}
	want := []Entry{entry(2), entry(1)}
	if diff := cmp.Diff(want, l.Recent(2)); diff != "" {
		t.Fatalf("Recent mismatch (-want +got):\n%s", diff)
	}
	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	want = []Entry{entry(2), entry(1), entry(0)}
	if diff := cmp.Diff(want, reopened.Recent(0)); diff != "" {
		t.Fatalf("reload mismatch (-want +got):\n%s", diff)
	}
}

func TestCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	l, err := Open(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := l.Append(entry(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(l.Recent(0)); got != 3 {
		t.Fatalf("len = %d, want 3 before the threshold", got)
	}
	// Reaching twice the maximum compacts.
	if err := l.Append(entry(3)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Entry{entry(3), entry(2)}, l.Recent(0)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Fatalf("file has %d lines, want 2", n)
	}
	if err := l.Append(entry(4)); err != nil {
		t.Fatal(err)
	}
	if err := l.Compact(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Entry{entry(4), entry(3)}, l.Recent(0)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestNil(t *testing.T) {
	var l *Log
	if err := l.Append(entry(0)); err != nil {
		t.Fatal(err)
	}
	if l.Recent(1) != nil {
		t.Fatal("expected nil")
	}
	if err := l.Compact(); err != nil {
		t.Fatal(err)
	}
}
