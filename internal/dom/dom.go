// Package dom is the narrow view of a host document that the overlay needs.
// It is implemented over a live Chrome tab (internal/browser) and over a parsed
// HTML tree (internal/dom/htmldom).
package dom

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// KeyAttr is stamped on host nodes the overlay has looked at, giving the
// physical node an identity that survives re-queries.
const KeyAttr = "data-chatda-key"

// ErrHostStructureNotFound marks host markup that no longer matches the
// expected layout.
var ErrHostStructureNotFound = errors.New("host structure not found")

// Position selects where Insert places a new element among the target's children.
type Position int

const (
	Last Position = iota
	First
)

// Node is a handle to an element. Handles are transient: the host may destroy the
// underlying element at any time, after which operations return errors.
type Node interface {
	// Key returns the node's KeyAttr value, stamping one if absent.
	Key(ctx context.Context) (string, error)
	Query(ctx context.Context, selector string) (Node, bool, error)
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	Text(ctx context.Context) (string, error)
	Insert(ctx context.Context, el Element, at Position) error
	SetAttr(ctx context.Context, name, value string) error
	ToggleClass(ctx context.Context, class string, on bool) error
	Remove(ctx context.Context) error
}

// Document is the document-scoped entry point.
type Document interface {
	Query(ctx context.Context, selector string) (Node, bool, error)
	QueryAll(ctx context.Context, selector string) ([]Node, error)
}

// Element describes a subtree to create.
type Element struct {
	Tag      string            `json:"tag"`
	ID       string            `json:"id,omitempty"`
	Classes  []string          `json:"classes,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []Element         `json:"children,omitempty"`
}

// StyleAttr renders Style as a deterministic inline style string.
func (e Element) StyleAttr() string {
	if len(e.Style) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Style))
	for k := range e.Style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Style[k])
	}
	return strings.Join(parts, "; ")
}
