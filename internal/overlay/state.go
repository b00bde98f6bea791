package overlay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/adapter"
	"github.com/Lechros/chatda/internal/compare"
	"github.com/Lechros/chatda/internal/conversation"
	"github.com/Lechros/chatda/internal/storage"
)

// State owns the session's conversation and comparison set. Writes that touch
// both happen under one lock, so readers never see one without the other.
type State struct {
	mu      sync.RWMutex
	conv    *conversation.Store
	set     *compare.Set
	backend storage.Store
	logger  *zap.Logger
}

// SessionView is a consistent read of both collections.
type SessionView struct {
	Messages []conversation.Message `json:"messages"`
	Compared []compare.Product      `json:"compared"`
	Typing   bool                   `json:"isTyping"`
	Loading  bool                   `json:"isLoading"`
}

func NewState(backend storage.Store, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		conv:    conversation.NewStore(backend, logger),
		set:     compare.NewSet(),
		backend: backend,
		logger:  logger,
	}
}

// AddComparison records the product and its companion message together. It
// reports false, writing nothing, when the model number is already compared.
func (s *State) AddComparison(ctx context.Context, ev adapter.ComparisonEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set.Has(ev.Product.ModelNo) {
		return false, nil
	}
	if err := s.conv.Append(ctx, ev.Message); err != nil {
		return false, fmt.Errorf("append companion message: %w", err)
	}
	s.set.Add(ev.Product)
	s.persistCompareLocked(ctx)
	return true, nil
}

func (s *State) Append(ctx context.Context, m conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Append(ctx, m)
}

func (s *State) UpdateTyping(ctx context.Context, id string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.UpdateTyping(ctx, id, typing)
}

func (s *State) UpdateLoading(ctx context.Context, id string, loading bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.UpdateLoading(ctx, id, loading)
}

func (s *State) View() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionView{
		Messages: s.conv.Snapshot(),
		Compared: s.set.Snapshot(),
		Typing:   s.conv.Typing(),
		Loading:  s.conv.Loading(),
	}
}

// ComparedModels lists compared model numbers in the order they were added.
func (s *State) ComparedModels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ModelNos()
}

// Restore reloads both collections from storage and reports how many entries
// each key held. Only an explicit user request calls it. Both keys are
// decoded before either collection is replaced; on error neither changes.
func (s *State) Restore(ctx context.Context) (messages, compared int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, haveMsgs, err := s.conv.Persisted(ctx)
	if err != nil {
		return 0, 0, err
	}
	var set *compare.Set
	if s.backend != nil {
		raw, ok, err := s.backend.Load(ctx, storage.KeyCompare)
		if err != nil {
			return 0, 0, fmt.Errorf("load compare set: %w", err)
		}
		if ok {
			set = compare.NewSet()
			if err := set.Decode(raw); err != nil {
				return 0, 0, err
			}
		}
	}

	if haveMsgs {
		s.conv.Replace(msgs)
		messages = len(msgs)
	}
	if set != nil {
		s.set = set
		compared = set.Len()
	}
	return messages, compared, nil
}

func (s *State) persistCompareLocked(ctx context.Context) {
	if s.backend == nil {
		return
	}
	data, err := s.set.Encode()
	if err != nil {
		s.logger.Warn("encode compare set", zap.Error(err))
		return
	}
	if err := s.backend.Save(ctx, storage.KeyCompare, data); err != nil {
		s.logger.Warn("persist compare set", zap.Error(err))
	}
}
