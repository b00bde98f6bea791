package mcp

import (
	"context"
	"fmt"

	"github.com/Lechros/chatda/internal/modal"
	"github.com/Lechros/chatda/internal/overlay"
)

type OverlayStateTool struct {
	overlay *overlay.Controller
}

func (t *OverlayStateTool) Name() string { return "overlay-state" }
func (t *OverlayStateTool) Description() string {
	return `Read everything the overlay currently holds.

Returns: {nav, page: {kind, isDetailPage, modelNo, url}, panels, generation,
items, bubble, mounted, session: {messages, compared, isTyping, isLoading}}`
}
func (t *OverlayStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *OverlayStateTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.overlay.Snapshot(), nil
}

type OpenPanelTool struct {
	overlay *overlay.Controller
}

func (t *OpenPanelTool) Name() string { return "open-panel" }
func (t *OpenPanelTool) Description() string {
	return `Open the main chat panel or an expand panel.

panel "main" opens the chat panel. panel "expand" opens the side panel with
kind popular | info | compare | search. For compare, models selects the
products to show; without models every compared product is shown. kind
"none" closes the expand panel.

Returns the panel state after the transition.`
}
func (t *OpenPanelTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"panel": map[string]interface{}{
				"type": "string",
				"enum": []string{"main", "expand"},
			},
			"kind": map[string]interface{}{
				"type": "string",
				"enum": []string{"none", "popular", "info", "compare", "search"},
			},
			"models": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Model numbers selected for the expand panel",
			},
		},
		"required": []string{"panel"},
	}
}
func (t *OpenPanelTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	switch getStringArg(args, "panel") {
	case "main":
		return t.overlay.OpenMain(), nil
	case "expand":
		kind, err := modal.ParseExpandKind(getStringArg(args, "kind"))
		if err != nil {
			return nil, err
		}
		return t.overlay.OpenExpand(kind, getStringSliceArg(args, "models")), nil
	default:
		return nil, fmt.Errorf("panel must be main or expand")
	}
}

type ClosePanelTool struct {
	overlay *overlay.Controller
}

func (t *ClosePanelTool) Name() string { return "close-panel" }
func (t *ClosePanelTool) Description() string {
	return `Close a panel.

panel "main" closes the chat panel and leaves the expand panel alone.
panel "expand" closes the expand panel. panel "backdrop" behaves like a
click outside both panels and closes them together.`
}
func (t *ClosePanelTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"panel": map[string]interface{}{
				"type": "string",
				"enum": []string{"main", "expand", "backdrop"},
			},
		},
		"required": []string{"panel"},
	}
}
func (t *ClosePanelTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	switch getStringArg(args, "panel") {
	case "main":
		return t.overlay.CloseMain(), nil
	case "expand":
		return t.overlay.CloseExpand(), nil
	case "backdrop":
		return t.overlay.CloseBackdrop(), nil
	default:
		return nil, fmt.Errorf("panel must be main, expand or backdrop")
	}
}

type CompareProductTool struct {
	overlay *overlay.Controller
}

func (t *CompareProductTool) Name() string { return "compare-product" }
func (t *CompareProductTool) Description() string {
	return `Add a listing item to the comparison, as if its compare button was clicked.

Pass index (position in the current scan) or key (the item's data-chatda-key).
A product already compared is not added again; added is false then.

Returns: {added, product: {name, modelNo, id, createdAt}}`
}
func (t *CompareProductTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"index": map[string]interface{}{
				"type":        "integer",
				"description": "Zero-based item position in the current listing scan",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Item node key; takes precedence over index",
			},
		},
	}
}
func (t *CompareProductTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if key := getStringArg(args, "key"); key != "" {
		return t.overlay.Compare(ctx, key)
	}
	idx := getIntArg(args, "index", -1)
	if idx < 0 {
		return nil, fmt.Errorf("index or key is required")
	}
	return t.overlay.CompareIndex(ctx, idx)
}

type RescanListingTool struct {
	overlay *overlay.Controller
}

func (t *RescanListingTool) Name() string { return "rescan-listing" }
func (t *RescanListingTool) Description() string {
	return `Re-scan the listing page now and decorate items that lack compare buttons.

Earlier item handles become stale. Only valid on the listing page.

Returns: {generation, items, decorated, loadMoreBound}`
}
func (t *RescanListingTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *RescanListingTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.overlay.Rescan(ctx)
}

type SendMessageTool struct {
	overlay *overlay.Controller
}

func (t *SendMessageTool) Name() string { return "send-message" }
func (t *SendMessageTool) Description() string {
	return `Send a chat message to the assistant backend and append the reply.

search routes the message to the product search endpoint. When the backend
fails, an error reply is appended and the tool reports the failure.

Returns the assistant reply message.`
}
func (t *SendMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type": "string",
			},
			"search": map[string]interface{}{
				"type":    "boolean",
				"default": false,
			},
		},
		"required": []string{"content"},
	}
}
func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	content := getStringArg(args, "content")
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	reply, err := t.overlay.SendMessage(ctx, content, getBoolArg(args, "search", false))
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error(), "reply": reply}, nil
	}
	return map[string]interface{}{"success": true, "reply": reply}, nil
}

type RestoreSessionTool struct {
	overlay *overlay.Controller
}

func (t *RestoreSessionTool) Name() string { return "restore-session" }
func (t *RestoreSessionTool) Description() string {
	return `Reload persisted messages and compared products from session storage.

Nothing is restored automatically; call this to pick up a previous session.

Returns: {messages, compared}`
}
func (t *RestoreSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *RestoreSessionTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	msgs, compared, err := t.overlay.RestoreSession(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"messages": msgs, "compared": compared}, nil
}
