// Package htmldom implements dom.Document over a parsed golang.org/x/net/html tree.
// It backs the offline inspect command and every test that needs host markup.
package htmldom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Lechros/chatda/internal/dom"
)

// ErrDetached is returned for operations on a node the document no longer contains.
var ErrDetached = errors.New("node detached from document")

// Document is safe for concurrent use; every operation holds the document lock.
type Document struct {
	mu   sync.Mutex
	root *html.Node
	seq  int
}

type node struct {
	doc *Document
	n   *html.Node
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// MustParseString parses markup or panics. Intended for fixtures.
func MustParseString(markup string) *Document {
	doc, err := Parse(strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	return doc
}

func compile(selector string) (cascadia.Matcher, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	return sel, nil
}

func (d *Document) Query(ctx context.Context, selector string) (dom.Node, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryLocked(d.root, selector)
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryAllLocked(d.root, selector)
}

func (d *Document) queryLocked(from *html.Node, selector string) (dom.Node, bool, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, false, err
	}
	found := cascadia.Query(from, sel)
	if found == nil {
		return nil, false, nil
	}
	return &node{doc: d, n: found}, true, nil
}

func (d *Document) queryAllLocked(from *html.Node, selector string) ([]dom.Node, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	matches := cascadia.QueryAll(from, sel)
	out := make([]dom.Node, 0, len(matches))
	for _, m := range matches {
		out = append(out, &node{doc: d, n: m})
	}
	return out, nil
}

// SetInnerHTML replaces the children of the first element matching selector.
// It stands in for host-driven re-renders such as "load more".
func (d *Document) SetInnerHTML(selector, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := compile(selector)
	if err != nil {
		return err
	}
	target := cascadia.Query(d.root, sel)
	if target == nil {
		return fmt.Errorf("no element matches %q", selector)
	}
	children, err := html.ParseFragment(strings.NewReader(markup), target)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for c := target.FirstChild; c != nil; {
		next := c.NextSibling
		target.RemoveChild(c)
		c = next
	}
	for _, c := range children {
		target.AppendChild(c)
	}
	return nil
}

// Render serialises the current tree.
func (d *Document) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

func (d *Document) attachedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (n *node) guard() error {
	if !n.doc.attachedLocked(n.n) {
		return ErrDetached
	}
	return nil
}

func (n *node) Key(ctx context.Context) (string, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return "", err
	}
	if v, ok := getAttr(n.n, dom.KeyAttr); ok {
		return v, nil
	}
	n.doc.seq++
	key := strconv.Itoa(n.doc.seq)
	setAttr(n.n, dom.KeyAttr, key)
	return key, nil
}

func (n *node) Query(ctx context.Context, selector string) (dom.Node, bool, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return nil, false, err
	}
	return n.doc.queryLocked(n.n, selector)
}

func (n *node) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return nil, err
	}
	return n.doc.queryAllLocked(n.n, selector)
}

func (n *node) Text(ctx context.Context) (string, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.TextNode {
			b.WriteString(h.Data)
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n.n)
	return b.String(), nil
}

func (n *node) Insert(ctx context.Context, el dom.Element, at dom.Position) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return err
	}
	built := build(el)
	if at == dom.First && n.n.FirstChild != nil {
		n.n.InsertBefore(built, n.n.FirstChild)
		return nil
	}
	n.n.AppendChild(built)
	return nil
}

func (n *node) SetAttr(ctx context.Context, name, value string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return err
	}
	setAttr(n.n, name, value)
	return nil
}

func (n *node) ToggleClass(ctx context.Context, class string, on bool) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return err
	}
	current, _ := getAttr(n.n, "class")
	fields := strings.Fields(current)
	kept := fields[:0]
	for _, f := range fields {
		if f != class {
			kept = append(kept, f)
		}
	}
	if on {
		kept = append(kept, class)
	}
	setAttr(n.n, "class", strings.Join(kept, " "))
	return nil
}

func (n *node) Remove(ctx context.Context) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if err := n.guard(); err != nil {
		return err
	}
	n.n.Parent.RemoveChild(n.n)
	return nil
}

func build(el dom.Element) *html.Node {
	tag := strings.ToLower(el.Tag)
	if tag == "" {
		tag = "div"
	}
	h := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if el.ID != "" {
		setAttr(h, "id", el.ID)
	}
	if len(el.Classes) > 0 {
		setAttr(h, "class", strings.Join(el.Classes, " "))
	}
	for k, v := range el.Attrs {
		setAttr(h, k, v)
	}
	if style := el.StyleAttr(); style != "" {
		setAttr(h, "style", style)
	}
	if el.Text != "" {
		h.AppendChild(&html.Node{Type: html.TextNode, Data: el.Text})
	}
	for _, child := range el.Children {
		h.AppendChild(build(child))
	}
	return h
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}
