// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("chat", "user", "hello", "gpt-4o")
	b := Key("chat", "user", "hello", "gpt-4o")
	if a != b {
		t.Errorf("identical fields produced different keys: %s vs %s", a, b)
	}
}

func TestKeyFieldBoundariesMatter(t *testing.T) {
	// Concatenation across field boundaries must not collide.
	cases := [][2][]string{
		{{"ab", "c"}, {"a", "bc"}},
		{{"user", "hello"}, {"userhello"}},
		{{"a", "", "b"}, {"a", "b"}},
	}
	for _, c := range cases {
		if Key(c[0]...) == Key(c[1]...) {
			t.Errorf("fields %q and %q collided", c[0], c[1])
		}
	}
}

func TestKeyDistinguishesHistories(t *testing.T) {
	// Two conversations sharing a prefix but diverging afterwards must
	// produce different keys for the same trailing prompt.
	historyA := []string{"system", "sys", "user", "hi", "assistant", "hello", "user", "again"}
	historyB := []string{"system", "sys", "user", "hi", "assistant", "howdy", "user", "again"}
	if Key(historyA...) == Key(historyB...) {
		t.Error("different histories produced the same key")
	}
}

func TestPutGet(t *testing.T) {
	s := NewStore(t.TempDir(), 10)

	if _, ok := s.Get("missing"); ok {
		t.Error("unexpected hit on empty store")
	}
	s.Put("k", "value")
	got, ok := s.Get("k")
	if !ok || got != "value" {
		t.Errorf("Get = %q, %v; want %q, true", got, ok, "value")
	}

	stats := s.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestEvictionIsBoundedAndInsertionOrdered(t *testing.T) {
	s := NewStore(t.TempDir(), 3)

	for i := 0; i < 5; i++ {
		s.Put(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	// Oldest insertions are gone, newest survive.
	for _, gone := range []string{"k0", "k1"} {
		if _, ok := s.Get(gone); ok {
			t.Errorf("%s should have been evicted", gone)
		}
	}
	for _, kept := range []string{"k2", "k3", "k4"} {
		if _, ok := s.Get(kept); !ok {
			t.Errorf("%s should still be cached", kept)
		}
	}
}

func TestDiskMirrorSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first := NewStore(dir, 10)
	first.Put("persisted", "value")

	second := NewStore(dir, 10)
	got, ok := second.Get("persisted")
	if !ok || got != "value" {
		t.Errorf("Get after restart = %q, %v; want %q, true", got, ok, "value")
	}
}

func TestClear(t *testing.T) {
	s := NewStore(t.TempDir(), 10)
	s.Put("k", "v")
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", s.Len())
	}
	if _, ok := s.Get("k"); ok {
		t.Error("hit after Clear")
	}
}

func TestClearSweepsMirrorFilesFromEarlierProcesses(t *testing.T) {
	dir := t.TempDir()

	first := NewStore(dir, 10)
	first.Put(Key("prompt"), "stale answer")

	// A fresh store has not read the mirror yet; Clear must still
	// remove it, or Get's disk fallback would serve the old value.
	second := NewStore(dir, 10)
	second.Clear()
	if got, ok := second.Get(Key("prompt")); ok {
		t.Errorf("Get after Clear = %q, true; want a miss", got)
	}
}

func TestNewStoreBoundsTheDiskMirror(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, fmt.Sprintf("k%d", i))
		if err := os.WriteFile(name, []byte("v"), 0644); err != nil {
			t.Fatal(err)
		}
		mod := time.Now().Add(time.Duration(i-5) * time.Hour)
		if err := os.Chtimes(name, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	NewStore(dir, 2)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("mirror holds %d files, want 2", len(entries))
	}
	// The newest files survive.
	for _, kept := range []string{"k3", "k4"} {
		if _, err := os.Stat(filepath.Join(dir, kept)); err != nil {
			t.Errorf("%s should have survived the trim: %v", kept, err)
		}
	}
}

func TestNilStoreDegradesToAlwaysMiss(t *testing.T) {
	var s *Store
	s.Put("k", "v")
	if _, ok := s.Get("k"); ok {
		t.Error("nil store returned a hit")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Error("nil store reported entries")
	}
}
