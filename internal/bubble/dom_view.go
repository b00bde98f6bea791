package bubble

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lechros/chatda/internal/dom"
)

// ElementID identifies the rendered bubble inside the mount point.
const ElementID = "chatdaSummary"

// Element builds the bubble markup: a header line and one span per sentence.
func Element(header, summary string) dom.Element {
	var sentences []dom.Element
	for _, s := range strings.Split(summary, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, dom.Element{Tag: "span", Text: s + "."})
		}
	}
	return dom.Element{
		Tag:     "div",
		ID:      ElementID,
		Classes: []string{"fade"},
		Attrs: map[string]string{
			"data-chatda-hover":  "bubble",
			"data-chatda-action": "bubble-dismiss",
		},
		Children: []dom.Element{
			{Tag: "div", Classes: []string{"summary-header"}, Children: []dom.Element{{Tag: "span", Text: header}}},
			{Tag: "div", Classes: []string{"summary-content"}, Children: sentences},
		},
	}
}

// DOMView toggles the fade-out and hidden classes on the rendered bubble.
type DOMView struct {
	node dom.Node
}

// Mount renders the bubble as the last child of parent and returns its view.
func Mount(ctx context.Context, parent dom.Node, header, summary string) (*DOMView, error) {
	if err := parent.Insert(ctx, Element(header, summary), dom.Last); err != nil {
		return nil, fmt.Errorf("insert bubble: %w", err)
	}
	node, ok, err := parent.Query(ctx, "#"+ElementID)
	if err != nil {
		return nil, fmt.Errorf("query bubble: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("bubble missing after insert")
	}
	return &DOMView{node: node}, nil
}

func (v *DOMView) SetFading(ctx context.Context, on bool) error {
	return v.node.ToggleClass(ctx, "fade-out", on)
}

func (v *DOMView) SetHidden(ctx context.Context, on bool) error {
	return v.node.ToggleClass(ctx, "hidden", on)
}

func (v *DOMView) Remove(ctx context.Context) error {
	return v.node.Remove(ctx)
}
