// Package conversation holds the session's ordered message sequence.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/storage"
)

var (
	ErrDuplicateID       = errors.New("duplicate message id")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrInvalidTransition = errors.New("invalid message flag transition")
)

// Store is append-only. Each successful mutation writes the full snapshot to
// storage.KeyMessages; a failed write is logged and the in-memory change stands.
type Store struct {
	mu      sync.RWMutex
	msgs    []Message
	index   map[string]int
	backend storage.Store
	logger  *zap.Logger
}

func NewStore(backend storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{index: make(map[string]int), backend: backend, logger: logger}
}

func (s *Store) Append(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		return fmt.Errorf("append: empty id")
	}
	if _, dup := s.index[m.ID]; dup {
		return fmt.Errorf("append %s: %w", m.ID, ErrDuplicateID)
	}
	m.ModelNoList = append([]string(nil), m.ModelNoList...)
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	s.persistLocked(ctx)
	return nil
}

// UpdateTyping clears the typing flag. Setting it back to true is rejected.
func (s *Store) UpdateTyping(ctx context.Context, id string, typing bool) error {
	return s.updateFlag(ctx, id, typing, func(m *Message) *bool { return &m.IsTyping })
}

// UpdateLoading clears the loading flag.
func (s *Store) UpdateLoading(ctx context.Context, id string, loading bool) error {
	return s.updateFlag(ctx, id, loading, func(m *Message) *bool { return &m.IsLoading })
}

func (s *Store) updateFlag(ctx context.Context, id string, value bool, field func(*Message) *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrUnknownMessage)
	}
	flag := field(&s.msgs[i])
	if *flag == value {
		return nil
	}
	if value {
		return fmt.Errorf("update %s: false to true: %w", id, ErrInvalidTransition)
	}
	*flag = false
	s.persistLocked(ctx)
	return nil
}

// Snapshot returns a copy in insertion order.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	for i, m := range s.msgs {
		m.ModelNoList = append([]string(nil), m.ModelNoList...)
		out[i] = m
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Typing reports whether any message is still being revealed.
func (s *Store) Typing() bool {
	return s.CurrentTypingID() != ""
}

// CurrentTypingID is the id of the newest message still typing, or "".
func (s *Store) CurrentTypingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].IsTyping {
			return s.msgs[i].ID
		}
	}
	return ""
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs {
		if m.IsLoading {
			return true
		}
	}
	return false
}

// Restore replaces the in-memory sequence with the persisted one. It is only
// called on an explicit user request. It reports how many messages were loaded.
func (s *Store) Restore(ctx context.Context) (int, error) {
	msgs, ok, err := s.Persisted(ctx)
	if err != nil || !ok {
		return 0, err
	}
	s.Replace(msgs)
	return len(msgs), nil
}

// Persisted decodes the stored sequence without touching the in-memory one.
// ok is false when nothing was stored.
func (s *Store) Persisted(ctx context.Context) (msgs []Message, ok bool, err error) {
	if s.backend == nil {
		return nil, false, nil
	}
	raw, ok, err := s.backend.Load(ctx, storage.KeyMessages)
	if err != nil {
		return nil, false, fmt.Errorf("load messages: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, false, fmt.Errorf("decode messages: %w", err)
	}
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			return nil, false, fmt.Errorf("restore %s: %w", m.ID, ErrDuplicateID)
		}
		seen[m.ID] = struct{}{}
	}
	return msgs, true, nil
}

// Replace swaps in a sequence returned by Persisted. Nothing is written back.
func (s *Store) Replace(msgs []Message) {
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = msgs
	s.index = index
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(s.msgs)
	if err != nil {
		s.logger.Warn("encode messages", zap.Error(err))
		return
	}
	if err := s.backend.Save(ctx, storage.KeyMessages, data); err != nil {
		s.logger.Warn("persist messages", zap.Error(err), zap.Int("count", len(s.msgs)))
	}
}
