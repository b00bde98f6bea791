// Package adapter knows the host site's markup: it classifies pages, scans
// listing items into generations, decorates them with compare affordances and
// reads product fields.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Lechros/chatda/internal/compare"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/conversation"
	"github.com/Lechros/chatda/internal/dom"
)

var (
	ErrHostStructureNotFound   = dom.ErrHostStructureNotFound
	ErrProductFieldsUnreadable = errors.New("product fields unreadable")
	ErrStaleHandle             = errors.New("handle belongs to an invalidated generation")
)

// Attributes the overlay adds to host and overlay nodes.
const (
	AttrAction  = "data-chatda-action"
	AttrItem    = "data-chatda-item"
	AttrCompare = "data-chatda-compare"
	AttrHover   = "data-chatda-hover"
	AttrLabel   = "data-chatda-label"
)

// Adapter is safe for concurrent use.
type Adapter struct {
	site       config.SiteConfig
	classifier Classifier
	genSeq     atomic.Uint64
}

func New(site config.SiteConfig) *Adapter {
	return &Adapter{
		site:       site,
		classifier: Classifier{ListingURL: site.ListingURL, DetailPrefix: site.DetailPrefix},
	}
}

func (a *Adapter) Classify(url string) PageContext {
	return a.classifier.Classify(url)
}

// Generation is one scan of the listing. Its handles are valid until the next
// scan or navigation invalidates it.
type Generation struct {
	ID      uint64
	Handles []ProductHandle
	byKey   map[string]int
	stale   atomic.Bool
	// LoadMoreBound reports whether the load-more control was found and tagged.
	LoadMoreBound bool
}

// Resolve finds the handle for a node key within this generation.
func (g *Generation) Resolve(key string) (ProductHandle, bool) {
	if g == nil || g.stale.Load() {
		return ProductHandle{}, false
	}
	i, ok := g.byKey[key]
	if !ok {
		return ProductHandle{}, false
	}
	return g.Handles[i], true
}

func (g *Generation) Invalidate() {
	if g != nil {
		g.stale.Store(true)
	}
}

func (g *Generation) Valid() bool {
	return g != nil && !g.stale.Load()
}

// Len is the number of items in the scan.
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Handles)
}

// ProductHandle is a transient reference to one listing item.
type ProductHandle struct {
	Index int
	Key   string
	gen   *Generation
	node  dom.Node
}

func (h ProductHandle) check() error {
	if h.node == nil || !h.gen.Valid() {
		return ErrStaleHandle
	}
	return nil
}

type querier interface {
	QueryAll(ctx context.Context, selector string) ([]dom.Node, error)
	Query(ctx context.Context, selector string) (dom.Node, bool, error)
}

// ScanListing produces a fresh generation of item handles. Handles from
// earlier scans are not carried over.
func (a *Adapter) ScanListing(ctx context.Context, doc dom.Document) (*Generation, error) {
	var scope querier = doc
	if a.site.ContainerSelector != "" {
		container, ok, err := doc.Query(ctx, a.site.ContainerSelector)
		if err != nil {
			return nil, fmt.Errorf("query container: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("container %q: %w", a.site.ContainerSelector, ErrHostStructureNotFound)
		}
		scope = container
	}

	nodes, err := scope.QueryAll(ctx, a.site.ItemSelector)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	gen := &Generation{ID: a.genSeq.Add(1), byKey: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		key, err := n.Key(ctx)
		if err != nil {
			// Replaced between query and stamp; the next scan picks up its successor.
			continue
		}
		if _, dup := gen.byKey[key]; dup {
			continue
		}
		gen.byKey[key] = len(gen.Handles)
		gen.Handles = append(gen.Handles, ProductHandle{Index: len(gen.Handles), Key: key, gen: gen, node: n})
	}

	if a.site.LoadMoreSelector != "" {
		if ctl, ok, err := doc.Query(ctx, a.site.LoadMoreSelector); err == nil && ok {
			gen.LoadMoreBound = ctl.SetAttr(ctx, AttrAction, "load-more") == nil
		}
	}
	return gen, nil
}

// Decorate adds the compare button and its hover label to the item. Each is
// inserted only if the node lacks it, so a partial earlier attempt is
// completed on the next scan. It reports whether anything was inserted.
func (a *Adapter) Decorate(ctx context.Context, h ProductHandle) (bool, error) {
	if err := h.check(); err != nil {
		return false, err
	}
	_, hasButton, err := h.node.Query(ctx, "["+AttrCompare+"]")
	if err != nil {
		return false, fmt.Errorf("decorate %s: %w", h.Key, err)
	}
	_, hasLabel, err := h.node.Query(ctx, "["+AttrLabel+"]")
	if err != nil {
		return false, fmt.Errorf("decorate %s: %w", h.Key, err)
	}

	added := false
	if !hasButton {
		if err := h.node.Insert(ctx, a.compareButton(h.Key), dom.Last); err != nil {
			return false, fmt.Errorf("insert compare button: %w", err)
		}
		added = true
	}
	if !hasLabel {
		if err := h.node.Insert(ctx, a.compareLabel(h.Key), dom.Last); err != nil {
			return added, fmt.Errorf("insert compare label: %w", err)
		}
		added = true
	}
	return added, nil
}

// compareButton starts with its icon hidden; the page hook shows it while the
// item is hovered.
func (a *Adapter) compareButton(key string) dom.Element {
	return dom.Element{
		Tag: "button",
		Attrs: map[string]string{
			AttrCompare: "true",
			AttrAction:  "compare",
			AttrItem:    key,
			AttrHover:   "compare",
			"type":      "button",
		},
		Children: []dom.Element{{
			Tag:   "img",
			Attrs: map[string]string{"src": a.site.IconURL, "width": "40", "alt": ""},
			Style: map[string]string{
				"position": "absolute", "right": "8%", "top": "44%",
				"z-index": "1", "cursor": "pointer", "display": "none",
			},
		}},
	}
}

// compareLabel is shown by the page hook while the compare button is hovered.
func (a *Adapter) compareLabel(key string) dom.Element {
	return dom.Element{
		Tag:   "div",
		Attrs: map[string]string{AttrLabel: key},
		Style: map[string]string{
			"position": "absolute", "top": "50%", "right": "9%", "padding": "8px 20px",
			"z-index": "100", "border-radius": "17px 0 17px 17px", "display": "none",
			"text-align": "center", "background-color": a.site.AccentColor,
		},
		Children: []dom.Element{{
			Tag:   "span",
			Text:  a.site.CompareLabel,
			Style: map[string]string{"color": "white", "font-size": "16px"},
		}},
	}
}

// ProductFields reads name and model number from the first two text-bearing
// descendants of the card detail element.
func (a *Adapter) ProductFields(ctx context.Context, h ProductHandle) (name, modelNo string, err error) {
	if err := h.check(); err != nil {
		return "", "", err
	}
	detail, ok, err := h.node.Query(ctx, a.site.CardDetailSelector)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrProductFieldsUnreadable, err)
	}
	if !ok {
		return "", "", fmt.Errorf("%w: no %s under item %s", ErrProductFieldsUnreadable, a.site.CardDetailSelector, h.Key)
	}
	spans, err := detail.QueryAll(ctx, a.site.CardTextSelector)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrProductFieldsUnreadable, err)
	}
	var texts []string
	for _, s := range spans {
		txt, err := s.Text(ctx)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrProductFieldsUnreadable, err)
		}
		if txt = strings.TrimSpace(txt); txt != "" {
			texts = append(texts, txt)
			if len(texts) == 2 {
				return texts[0], texts[1], nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: item %s has %d text fields", ErrProductFieldsUnreadable, h.Key, len(texts))
}

// ComparisonEvent is the product and its companion message, built together so
// they share an id.
type ComparisonEvent struct {
	Product compare.Product      `json:"product"`
	Message conversation.Message `json:"message"`
}

// OnCompareClick builds the comparison event for h. Nothing is written; on
// error the click is a no-op.
func (a *Adapter) OnCompareClick(ctx context.Context, h ProductHandle, ids *conversation.IDGenerator, now time.Time) (ComparisonEvent, error) {
	name, model, err := a.ProductFields(ctx, h)
	if err != nil {
		return ComparisonEvent{}, err
	}
	return NewComparisonEvent(name, model, ids.Next(), now), nil
}

// NewComparisonEvent pairs a product with its companion message.
func NewComparisonEvent(name, modelNo, id string, now time.Time) ComparisonEvent {
	return ComparisonEvent{
		Product: compare.Product{Name: name, ModelNo: modelNo, ID: id, CreatedAt: now},
		Message: conversation.Message{
			ID:         id,
			Kind:       conversation.KindCompare,
			Content:    name + "\n" + modelNo,
			Sender:     conversation.SenderUser,
			IsTyping:   true,
			IsCompared: true,
			ModelNo:    modelNo,
			CreatedAt:  now,
		},
	}
}
