// Package mount owns the overlay's injection root inside the host document.
package mount

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Lechros/chatda/internal/dom"
	"github.com/Lechros/chatda/internal/modal"
)

// ErrHostStructureNotFound is returned when the host anchor element is absent.
var ErrHostStructureNotFound = dom.ErrHostStructureNotFound

// Manager creates the mount point and the launcher icon at most once per document.
type Manager struct {
	MountID    string
	LauncherID string
	IconURL    string
}

// MountHandle is the single node under which the view layer renders.
type MountHandle struct {
	node dom.Node
	id   string
}

// ID returns the element id of the mount point.
func (h MountHandle) ID() string { return h.id }

// Node exposes the underlying handle for view-layer inserts.
func (h MountHandle) Node() dom.Node { return h.node }

func (m *Manager) anchor(ctx context.Context, doc dom.Document, anchorSelector string) (dom.Node, error) {
	anchor, ok, err := doc.Query(ctx, anchorSelector)
	if err != nil {
		return nil, fmt.Errorf("query anchor %q: %w", anchorSelector, err)
	}
	if !ok {
		return nil, fmt.Errorf("anchor %q: %w", anchorSelector, ErrHostStructureNotFound)
	}
	return anchor, nil
}

// EnsureMountPoint returns the existing mount point under the anchor or appends
// one as the anchor's last child.
func (m *Manager) EnsureMountPoint(ctx context.Context, doc dom.Document, anchorSelector string) (MountHandle, error) {
	anchor, err := m.anchor(ctx, doc, anchorSelector)
	if err != nil {
		return MountHandle{}, err
	}
	sel := "#" + m.MountID
	if existing, ok, err := anchor.Query(ctx, sel); err != nil {
		return MountHandle{}, fmt.Errorf("query mount point: %w", err)
	} else if ok {
		return MountHandle{node: existing, id: m.MountID}, nil
	}

	if err := anchor.Insert(ctx, dom.Element{
		Tag:   "div",
		ID:    m.MountID,
		Attrs: map[string]string{"data-chatda-root": "true"},
	}, dom.Last); err != nil {
		return MountHandle{}, fmt.Errorf("insert mount point: %w", err)
	}
	created, ok, err := anchor.Query(ctx, sel)
	if err != nil {
		return MountHandle{}, fmt.Errorf("query mount point: %w", err)
	}
	if !ok {
		return MountHandle{}, fmt.Errorf("mount point vanished after insert: %w", ErrHostStructureNotFound)
	}
	return MountHandle{node: created, id: m.MountID}, nil
}

// EnsureLauncher prepends the launcher icon to the anchor unless the document
// already has one. It reports whether an icon was created.
func (m *Manager) EnsureLauncher(ctx context.Context, doc dom.Document, anchorSelector string) (bool, error) {
	if _, ok, err := doc.Query(ctx, "#"+m.LauncherID); err != nil {
		return false, fmt.Errorf("query launcher: %w", err)
	} else if ok {
		return false, nil
	}
	anchor, err := m.anchor(ctx, doc, anchorSelector)
	if err != nil {
		return false, err
	}
	err = anchor.Insert(ctx, dom.Element{
		Tag: "img",
		ID:  m.LauncherID,
		Attrs: map[string]string{
			"src":                m.IconURL,
			"width":              "64",
			"alt":                "ChatDA",
			"data-chatda-action": "open-main",
		},
		Style: map[string]string{"position": "relative", "z-index": "100", "cursor": "pointer"},
	}, dom.First)
	if err != nil {
		return false, fmt.Errorf("insert launcher: %w", err)
	}
	return true, nil
}

// Publish mirrors the modal state onto the mount node.
func (h MountHandle) Publish(ctx context.Context, st modal.State) error {
	if h.node == nil {
		return fmt.Errorf("publish: %w", ErrHostStructureNotFound)
	}
	attrs := [][2]string{
		{"data-main-open", strconv.FormatBool(st.MainOpen)},
		{"data-expand-open", strconv.FormatBool(st.ExpandOpen)},
		{"data-expand", string(st.Expand)},
		{"data-selected", strings.Join(st.Selected, ",")},
	}
	for _, a := range attrs {
		if err := h.node.SetAttr(ctx, a[0], a[1]); err != nil {
			return fmt.Errorf("publish %s: %w", a[0], err)
		}
	}
	return nil
}
