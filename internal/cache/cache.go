// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the bounded response cache for completion calls.
//
// A Store is a content-addressed key→value mapping with a fixed maximum
// entry count. Two scopes exist in practice, each its own Store
// instance: the request cache (one-shot prompts) and the chat cache
// (full per-conversation histories). Scope is a construction parameter,
// not hidden state.
//
// The cache is advisory. Disk errors degrade to always-miss behavior;
// a nil *Store is a valid always-miss, discard-on-put cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// KEY DERIVATION
// =============================================================================

// Key derives a deterministic cache key from the normalized request
// fields. Callers pass every field that participates in the response:
// for the request scope that is the completion options, the role text
// and the prompt; for the chat scope it is the completion options
// followed by the role and content of every message in order, so that
// identical latest prompts with different prior histories can never
// collide. Each field is length-prefixed before hashing, which keeps
// ("ab","c") distinct from ("a","bc").
func Key(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{0x1f})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// CACHE STORE
// =============================================================================

// Store is a bounded key→value cache with insertion-order eviction.
// Safe for concurrent use; a single mutex serializes writers, so two
// callers racing on the same key cannot corrupt an entry.
type Store struct {
	mu         sync.Mutex
	dir        string // "" = memory only
	maxEntries int
	entries    map[string]string
	order      []string // insertion order, oldest first

	hits   int
	misses int
}

// Stats holds cache statistics.
type Stats struct {
	Hits       int
	Misses     int
	EntryCount int
	MaxEntries int
}

// NewStore creates a cache bounded to maxEntries. If dir is non-empty,
// entries are mirrored to one file per key under dir and survive
// process restarts; any IO failure is swallowed and the store keeps
// working from memory.
func NewStore(dir string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if dir != "" {
		// Best effort; a read-only location just means memory-only.
		os.MkdirAll(dir, 0755)
		trimMirror(dir, maxEntries)
	}
	return &Store{
		dir:        dir,
		maxEntries: maxEntries,
		entries:    make(map[string]string),
		order:      make([]string, 0, maxEntries),
	}
}

// Get retrieves a cached value. A nil store always misses.
func (s *Store) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.entries[key]; ok {
		s.hits++
		return v, true
	}

	// Fall back to the disk mirror left by a previous process.
	if s.dir != "" {
		if data, err := os.ReadFile(s.entryPath(key)); err == nil {
			s.insertLocked(key, string(data), false)
			s.hits++
			return string(data), true
		}
	}

	s.misses++
	return "", false
}

// Put stores a value. On overflow the least-recently-inserted entry is
// evicted. A nil store discards the value.
func (s *Store) Put(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(key, value, true)
}

// Clear removes all entries from memory and the disk mirror. The whole
// mirror directory is swept, not just the in-memory index: files left
// by earlier processes must not come back as hits through Get's disk
// fallback.
func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != "" {
		if entries, err := os.ReadDir(s.dir); err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					os.Remove(filepath.Join(s.dir, e.Name()))
				}
			}
		}
	}
	s.entries = make(map[string]string)
	s.order = s.order[:0]
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GetStats returns cache statistics.
func (s *Store) GetStats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:       s.hits,
		Misses:     s.misses,
		EntryCount: len(s.entries),
		MaxEntries: s.maxEntries,
	}
}

// insertLocked adds an entry, evicting the oldest insertions as needed.
// Re-putting an existing key refreshes its value but keeps its slot in
// the insertion order; a double write wastes work, nothing more.
func (s *Store) insertLocked(key, value string, persist bool) {
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.maxEntries && len(s.order) > 0 {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
			if s.dir != "" {
				os.Remove(s.entryPath(oldest))
			}
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = value

	if persist && s.dir != "" {
		// Best effort; a failed write just loses the mirror.
		os.WriteFile(s.entryPath(key), []byte(value), 0644)
	}
}

// entryPath returns the disk mirror path for a key.
func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, key)
}

// trimMirror deletes the oldest mirror files past the entry bound.
// Eviction only removes files it knows about, so without this sweep the
// mirror would grow without bound across restarts.
func trimMirror(dir string, maxEntries int) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) <= maxEntries {
		return
	}

	type mirrorFile struct {
		name string
		mod  time.Time
	}
	files := make([]mirrorFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, mirrorFile{e.Name(), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for i := 0; i+maxEntries < len(files); i++ {
		os.Remove(filepath.Join(dir, files[i].name))
	}
}
