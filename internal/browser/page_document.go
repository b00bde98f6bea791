package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/Lechros/chatda/internal/dom"
)

// PageDocument implements dom.Document over a live Rod page. Queries never
// wait: a selector with no match reports false right away.
type PageDocument struct {
	page *rod.Page
}

func NewPageDocument(page *rod.Page) *PageDocument {
	return &PageDocument{page: page}
}

func (d *PageDocument) Query(ctx context.Context, selector string) (dom.Node, bool, error) {
	ok, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("query %q: %w", selector, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &pageNode{el: el}, true, nil
}

func (d *PageDocument) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query all %q: %w", selector, err)
	}
	return wrap(els), nil
}

type pageNode struct {
	el *rod.Element
}

func wrap(els rod.Elements) []dom.Node {
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		out = append(out, &pageNode{el: el})
	}
	return out
}

// Key stamps a page-wide sequence number so keys stay unique across scans.
const keyJS = `(attr) => {
	if (!this.hasAttribute(attr)) {
		window.__chatdaKeySeq = (window.__chatdaKeySeq || 0) + 1;
		this.setAttribute(attr, String(window.__chatdaKeySeq));
	}
	return this.getAttribute(attr);
}`

const insertJS = `(el, first) => {
	const build = (s) => {
		const n = document.createElement(s.tag || 'div');
		if (s.id) n.id = s.id;
		(s.classes || []).forEach((c) => n.classList.add(c));
		Object.entries(s.attrs || {}).forEach(([k, v]) => n.setAttribute(k, v));
		Object.entries(s.style || {}).forEach(([k, v]) => n.style.setProperty(k, v));
		if (s.text) n.textContent = s.text;
		(s.children || []).forEach((c) => n.appendChild(build(c)));
		return n;
	};
	const node = build(el);
	if (first) this.prepend(node); else this.append(node);
	return true;
}`

func (n *pageNode) Key(ctx context.Context) (string, error) {
	res, err := n.el.Context(ctx).Eval(keyJS, dom.KeyAttr)
	if err != nil {
		return "", fmt.Errorf("stamp key: %w", err)
	}
	return res.Value.Str(), nil
}

func (n *pageNode) Query(ctx context.Context, selector string) (dom.Node, bool, error) {
	ok, el, err := n.el.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("query %q: %w", selector, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &pageNode{el: el}, true, nil
}

func (n *pageNode) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	els, err := n.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query all %q: %w", selector, err)
	}
	return wrap(els), nil
}

func (n *pageNode) Text(ctx context.Context) (string, error) {
	res, err := n.el.Context(ctx).Eval(`() => this.textContent || ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (n *pageNode) Insert(ctx context.Context, el dom.Element, at dom.Position) error {
	if _, err := n.el.Context(ctx).Eval(insertJS, el, at == dom.First); err != nil {
		return fmt.Errorf("insert %s: %w", el.Tag, err)
	}
	return nil
}

func (n *pageNode) SetAttr(ctx context.Context, name, value string) error {
	_, err := n.el.Context(ctx).Eval(`(k, v) => this.setAttribute(k, v)`, name, value)
	return err
}

func (n *pageNode) ToggleClass(ctx context.Context, class string, on bool) error {
	_, err := n.el.Context(ctx).Eval(`(c, on) => this.classList.toggle(c, on)`, class, on)
	return err
}

func (n *pageNode) Remove(ctx context.Context) error {
	return n.el.Context(ctx).Remove()
}
