package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
)

// PageSource yields the tab whose sessionStorage backs the store.
type PageSource interface {
	Page() (*rod.Page, bool)
}

// SessionStorage implements storage.Store on the host page's sessionStorage,
// so state lives exactly as long as the browser session.
type SessionStorage struct {
	pages PageSource
}

func NewSessionStorage(pages PageSource) *SessionStorage {
	return &SessionStorage{pages: pages}
}

func (s *SessionStorage) Save(ctx context.Context, key string, data []byte) error {
	page, ok := s.pages.Page()
	if !ok {
		return ErrNoTab
	}
	if _, err := page.Context(ctx).Eval(`(k, v) => sessionStorage.setItem(k, v)`, key, string(data)); err != nil {
		return fmt.Errorf("session storage save %s: %w", key, err)
	}
	return nil
}

func (s *SessionStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	page, ok := s.pages.Page()
	if !ok {
		return nil, false, ErrNoTab
	}
	res, err := page.Context(ctx).Eval(`(k) => sessionStorage.getItem(k)`, key)
	if err != nil {
		return nil, false, fmt.Errorf("session storage load %s: %w", key, err)
	}
	if res.Value.Nil() {
		return nil, false, nil
	}
	return []byte(res.Value.Str()), true, nil
}
