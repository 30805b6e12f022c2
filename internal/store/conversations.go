// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the durable per-conversation message log.
//
// Conversations are stored one JSON file per id. Creation is lazy: Load
// on an unknown id returns an empty conversation and writes nothing.
// All mutation goes through Append and EnsureSystemRole, which serialize
// against concurrent processes with a lock file, rewrite the file
// atomically, and enforce the system-message-first invariant.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/morganforge/gptsh/internal/model"
	"github.com/morganforge/gptsh/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a conversation does not exist on disk.
	ErrNotFound = errors.New("conversation not found")

	// ErrCorrupt is returned when a persisted conversation cannot be
	// parsed. Fatal for that conversation id only; the caller may offer
	// to start fresh.
	ErrCorrupt = errors.New("conversation file is corrupt")

	// ErrRoleNotEstablished is returned when an append would create or
	// extend a conversation that has no leading system message. The
	// caller must establish the role first; proceeding with an unrooted
	// conversation is never allowed.
	ErrRoleNotEstablished = errors.New("conversation has no system role established")

	// ErrLockTimeout is returned when the per-conversation lock could
	// not be acquired.
	ErrLockTimeout = errors.New("timed out waiting for conversation lock")
)

// =============================================================================
// CONTEXT STORE
// =============================================================================

// ContextStore handles conversation persistence.
type ContextStore struct {
	// BaseDir is the directory for storing conversations.
	// Default: ~/.gptsh/conversations/
	BaseDir string

	// MaxMessages caps each conversation's length. When an append pushes
	// a conversation past this limit, the oldest non-system messages are
	// dropped. 0 = unlimited.
	MaxMessages int

	// LockTimeout bounds how long Append/EnsureSystemRole wait for a
	// concurrent writer on the same conversation.
	LockTimeout time.Duration
}

// Meta contains metadata for listing conversations.
type Meta struct {
	ID           string    `json:"id"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// New creates a store rooted at ~/.gptsh/conversations.
func New(maxMessages int) (*ContextStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewWithDir(filepath.Join(homeDir, ".gptsh", "conversations"), maxMessages)
}

// NewWithDir creates a store with a custom directory.
func NewWithDir(baseDir string, maxMessages int) (*ContextStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &ContextStore{
		BaseDir:     baseDir,
		MaxMessages: maxMessages,
		LockTimeout: 5 * time.Second,
	}, nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load retrieves a conversation by id. An unknown id yields an empty
// conversation; nothing is written until the first append.
func (s *ContextStore) Load(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewConversation(id), nil
		}
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	return &conv, nil
}

// Exists reports whether a conversation has been persisted.
func (s *ContextStore) Exists(id string) bool {
	_, err := os.Stat(s.filePath(id))
	return err == nil
}

// =============================================================================
// MUTATION
// =============================================================================

// EnsureSystemRole establishes the conversation's system message.
// Idempotent: if the conversation has no messages, the system message is
// injected as message zero; if it already has any messages, this is a
// no-op. The lock file makes the check-then-inject atomic across
// processes, so two racing callers cannot both inject.
func (s *ContextStore) EnsureSystemRole(id, roleText string) error {
	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	conv, err := s.Load(id)
	if err != nil {
		return err
	}
	if !conv.IsEmpty() {
		if !conv.HasSystemMessage() {
			return fmt.Errorf("%w: %s", ErrRoleNotEstablished, id)
		}
		return nil
	}

	conv.Messages = append(conv.Messages, model.NewSystemMessage(roleText))
	return s.write(conv)
}

// Append adds a message to a conversation. The write is atomic per call:
// a crash mid-write leaves the previous file intact. Appending to a
// conversation whose first message is not a system message fails with
// ErrRoleNotEstablished.
func (s *ContextStore) Append(id string, msg model.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	conv, err := s.Load(id)
	if err != nil {
		return err
	}

	// The first message of every conversation must be the system role.
	if conv.IsEmpty() && msg.Role != model.RoleSystem {
		return fmt.Errorf("%w: %s", ErrRoleNotEstablished, id)
	}
	if !conv.IsEmpty() && !conv.HasSystemMessage() {
		return fmt.Errorf("%w: %s", ErrRoleNotEstablished, id)
	}
	// The system message is injected exactly once, at index 0.
	if !conv.IsEmpty() && msg.Role == model.RoleSystem {
		return fmt.Errorf("system role already established for %s", id)
	}

	conv.Messages = append(conv.Messages, msg)
	if s.MaxMessages > 0 {
		conv.Truncate(s.MaxMessages)
	}
	return s.write(conv)
}

// Delete removes a persisted conversation.
func (s *ContextStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// write persists the conversation atomically.
func (s *ContextStore) write(conv *model.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.filePath(conv.ID), data, 0644)
}

// =============================================================================
// LIST
// =============================================================================

// List returns metadata for all saved conversations, most recent first.
func (s *ContextStore) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, err
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.Load(id)
		if err != nil {
			continue // skip corrupt files in listings
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			ID:           id,
			UpdatedAt:    info.ModTime(),
			MessageCount: conv.Len(),
			Preview:      conv.Preview(60),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// FormatList formats conversation metadata as a table for display.
func FormatList(metas []Meta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 20) + " " + pad("Updated", 17) + " " + pad("Msgs", 5) + " Preview\n")
	sb.WriteString(strings.Repeat("-", 70) + "\n")
	for _, m := range metas {
		sb.WriteString(pad(m.ID, 20) + " " +
			pad(m.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			pad(fmt.Sprintf("%d", m.MessageCount), 5) + " " +
			m.Preview + "\n")
	}
	return sb.String()
}

// pad pads or truncates a cell to a display width, wide-rune aware.
func pad(s string, width int) string {
	s = runewidth.Truncate(s, width, "…")
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

// =============================================================================
// LOCKING
// =============================================================================

// staleLockAge is how old a lock file may be before it is considered
// abandoned by a crashed process and broken.
const staleLockAge = 10 * time.Second

// lock acquires the per-conversation lock file. Appends from concurrent
// processes against the same id serialize here, which is what makes
// EnsureSystemRole idempotent under race.
func (s *ContextStore) lock(id string) (func(), error) {
	lockPath := s.filePath(id) + ".lock"
	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		// Break locks abandoned by a crashed writer.
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > staleLockAge {
				os.Remove(lockPath)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, id)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// filePath returns the file path for a conversation id.
func (s *ContextStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, sanitizeID(id)+".json")
}

// sanitizeID keeps conversation ids filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
