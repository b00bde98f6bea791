package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lechros/chatda/internal/browser"
	"github.com/Lechros/chatda/internal/overlay"
)

var errNoBrowser = errors.New("browser integration not configured")

// LaunchBrowserTool connects to Chrome and opens the overlay tab.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
	overlay  *overlay.Controller
	base     func() context.Context
	startURL string
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start or attach to Chrome and open the overlay tab.

CALL THIS FIRST when the daemon was started without auto_start.

WHAT IT DOES:
- Connects to debugger_url or runs the configured launch command
- Opens one tab with the overlay hook installed
- Navigates it to url (default: browser.start_url)

Idempotent for the connection; an existing overlay tab is replaced.

Returns: {status: "started"|"already_connected", control_url, session}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page to open in the overlay tab",
			},
		},
	}
}
func (t *LaunchBrowserTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	// The connection must outlive this call.
	ctx := t.base()
	status := "already_connected"
	if !t.sessions.IsConnected() {
		if err := t.sessions.Start(ctx); err != nil {
			return nil, err
		}
		status = "started"
	}
	url := getStringArg(args, "url")
	if url == "" {
		url = t.startURL
	}
	sess, err := t.sessions.OpenOverlay(ctx, url, t.overlay)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      status,
		"control_url": t.sessions.ControlURL(),
		"session":     sess,
	}, nil
}

// NavigateURLTool loads a URL in the overlay tab. The overlay re-binds once
// the page has loaded.
type NavigateURLTool struct {
	sessions *browser.SessionManager
}

func (t *NavigateURLTool) Name() string { return "navigate-url" }
func (t *NavigateURLTool) Description() string {
	return `Go to a URL in the overlay tab.

The overlay classifies the new page (listing, detail, other) after it loads:
listing pages get compare buttons, detail pages get the summary bubble.
Use overlay-state afterwards to see the result.`
}
func (t *NavigateURLTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to navigate to",
			},
		},
		"required": []string{"url"},
	}
}
func (t *NavigateURLTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	if err := t.sessions.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "url": url}, nil
}

// ShutdownBrowserTool closes the overlay tab and the browser connection.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Close the overlay tab and stop Chrome.

Conversation and comparison state held in memory is kept; state stored in
the tab's sessionStorage is lost with the tab.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return nil, errNoBrowser
	}
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}
