// Package compare is the de-duplicated set of products picked for comparison.
package compare

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Product is keyed by ModelNo. ID matches the companion message id.
type Product struct {
	Name      string    `json:"name"`
	ModelNo   string    `json:"modelNo"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Set preserves insertion order. Entries are never removed.
type Set struct {
	mu       sync.RWMutex
	products []Product
	byModel  map[string]struct{}
}

func NewSet() *Set {
	return &Set{byModel: make(map[string]struct{})}
}

// Add inserts p unless its model number is already present.
func (s *Set) Add(p Product) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byModel[p.ModelNo]; ok {
		return false
	}
	s.byModel[p.ModelNo] = struct{}{}
	s.products = append(s.products, p)
	return true
}

func (s *Set) Has(modelNo string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byModel[modelNo]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

func (s *Set) Snapshot() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Product{}, s.products...)
}

// ModelNos lists model numbers in insertion order.
func (s *Set) ModelNos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.products))
	for i, p := range s.products {
		out[i] = p.ModelNo
	}
	return out
}

func (s *Set) Encode() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Decode replaces the contents with a persisted snapshot. Duplicate model
// numbers in the input keep their first occurrence.
func (s *Set) Decode(data []byte) error {
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("decode compare set: %w", err)
	}
	byModel := make(map[string]struct{}, len(products))
	kept := products[:0]
	for _, p := range products {
		if _, dup := byModel[p.ModelNo]; dup {
			continue
		}
		byModel[p.ModelNo] = struct{}{}
		kept = append(kept, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = kept
	s.byModel = byModel
	return nil
}
