package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Lechros/chatda/internal/browser"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/dom/htmldom"
	"github.com/Lechros/chatda/internal/mangle"
	"github.com/Lechros/chatda/internal/modal"
	"github.com/Lechros/chatda/internal/overlay"
)

const listing = `<html><body><div class="menu01"></div><ul>
<li class="item-inner"><div class="card-detail"><span>A</span><span>RF1</span></div></li>
<li class="item-inner"><div class="card-detail"><span>B</span><span>RF2</span></div></li>
</ul></body></html>`

func setupTestServer(t *testing.T, withBrowser bool) (*Server, *overlay.Controller) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"

	engine, err := mangle.NewEngine(cfg.Mangle, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctrl := overlay.New(overlay.Deps{Config: &cfg, Facts: engine})
	ctrl.Init(context.Background())
	t.Cleanup(ctrl.Teardown)

	d := Deps{Overlay: ctrl, Engine: engine}
	if withBrowser {
		d.Sessions = browser.NewSessionManager(cfg.Browser, nil)
	}
	server, err := NewServer(cfg, d)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server, ctrl
}

func TestNewServer(t *testing.T) {
	t.Run("requires overlay", func(t *testing.T) {
		if _, err := NewServer(config.DefaultConfig(), Deps{}); err == nil {
			t.Fatal("expected error without overlay controller")
		}
	})

	t.Run("registers tools", func(t *testing.T) {
		server, _ := setupTestServer(t, false)
		for _, name := range []string{
			"overlay-state", "open-panel", "close-panel", "compare-product",
			"rescan-listing", "send-message", "restore-session",
			"query-facts", "read-facts", "launch-browser", "navigate-url", "shutdown-browser",
		} {
			if _, ok := server.tools[name]; !ok {
				t.Errorf("tool %s not registered", name)
			}
		}
	})
}

func TestExecuteToolUnknown(t *testing.T) {
	server, _ := setupTestServer(t, false)
	if _, err := server.ExecuteTool("does-not-exist", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestPanelTools(t *testing.T) {
	server, ctrl := setupTestServer(t, false)

	result, err := server.ExecuteTool("open-panel", map[string]interface{}{
		"panel":  "expand",
		"kind":   "compare",
		"models": []interface{}{"RF1", "RF2"},
	})
	if err != nil {
		t.Fatalf("open-panel failed: %v", err)
	}
	st := result.(modal.State)
	if !st.ExpandOpen || st.Expand != modal.ExpandCompare || len(st.Selected) != 2 {
		t.Errorf("unexpected state: %+v", st)
	}

	if _, err := server.ExecuteTool("open-panel", map[string]interface{}{"panel": "main"}); err != nil {
		t.Fatalf("open main failed: %v", err)
	}
	if _, err := server.ExecuteTool("close-panel", map[string]interface{}{"panel": "backdrop"}); err != nil {
		t.Fatalf("close backdrop failed: %v", err)
	}
	if got := ctrl.Snapshot().Panels; got.MainOpen || got.ExpandOpen {
		t.Errorf("expected both panels closed, got %+v", got)
	}

	if _, err := server.ExecuteTool("open-panel", map[string]interface{}{"panel": "expand", "kind": "ranking"}); err == nil {
		t.Error("expected error for unknown expand kind")
	}
	if _, err := server.ExecuteTool("close-panel", map[string]interface{}{"panel": "sidebar"}); err == nil {
		t.Error("expected error for unknown panel")
	}
}

func TestCompareAndFactTools(t *testing.T) {
	server, ctrl := setupTestServer(t, false)
	cfg := config.DefaultConfig()
	if _, err := ctrl.OnNavigate(context.Background(), htmldom.MustParseString(listing), cfg.Site.ListingURL); err != nil {
		t.Fatalf("navigate failed: %v", err)
	}

	if _, err := server.ExecuteTool("compare-product", map[string]interface{}{}); err == nil {
		t.Error("expected error without index or key")
	}
	result, err := server.ExecuteTool("compare-product", map[string]interface{}{"index": float64(1)})
	if err != nil {
		t.Fatalf("compare-product failed: %v", err)
	}
	if res := result.(overlay.CompareResult); !res.Added || res.Product.ModelNo != "RF2" {
		t.Errorf("unexpected compare result: %+v", res)
	}

	result, err = server.ExecuteTool("query-facts", map[string]interface{}{"query": "compared(M)."})
	if err != nil {
		t.Fatalf("query-facts failed: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected one compared fact, got %v", payload["count"])
	}

	result, err = server.ExecuteTool("read-facts", map[string]interface{}{"predicate": "listing_scan"})
	if err != nil {
		t.Fatalf("read-facts failed: %v", err)
	}
	if payload := result.(map[string]interface{}); payload["count"] != 1 {
		t.Errorf("expected one listing_scan fact, got %v", payload["count"])
	}

	if _, err := server.ExecuteTool("rescan-listing", nil); err != nil {
		t.Errorf("rescan-listing failed: %v", err)
	}
}

func TestSendMessageWithoutBackend(t *testing.T) {
	server, _ := setupTestServer(t, false)
	if _, err := server.ExecuteTool("send-message", map[string]interface{}{}); err == nil {
		t.Error("expected error without content")
	}
	result, err := server.ExecuteTool("send-message", map[string]interface{}{"content": "안녕"})
	if err != nil {
		t.Fatalf("send-message returned error: %v", err)
	}
	if payload := result.(map[string]interface{}); payload["success"] != false {
		t.Errorf("expected unsuccessful payload, got %v", payload)
	}
}

func TestBrowserToolsWithoutBrowser(t *testing.T) {
	server, _ := setupTestServer(t, false)
	if _, err := server.ExecuteTool("navigate-url", map[string]interface{}{"url": "about:blank"}); !errors.Is(err, errNoBrowser) {
		t.Errorf("expected errNoBrowser, got %v", err)
	}

	server, _ = setupTestServer(t, true)
	if _, err := server.ExecuteTool("navigate-url", map[string]interface{}{}); err == nil {
		t.Error("expected error without url")
	}
	if _, err := server.ExecuteTool("navigate-url", map[string]interface{}{"url": "about:blank"}); !errors.Is(err, browser.ErrNoTab) {
		t.Errorf("expected ErrNoTab, got %v", err)
	}
	if _, err := server.ExecuteTool("shutdown-browser", nil); err != nil {
		t.Errorf("shutdown of idle browser failed: %v", err)
	}
}

func TestWrapToolReportsErrors(t *testing.T) {
	server, _ := setupTestServer(t, false)
	handler := server.wrapTool(server.tools["close-panel"])

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{"panel": "nope"}
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError result")
	}

	req.Params.Arguments = map[string]interface{}{"panel": "main"}
	res, _ = handler(context.Background(), req)
	text := res.Content[0].(mcp.TextContent).Text
	var st modal.State
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("payload is not panel state: %v (%s)", err, text)
	}
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad", map[string]interface{}{"ch": make(chan int)})
	if !strings.Contains(string(payload), "non-serializable") {
		t.Errorf("expected fallback payload, got %s", payload)
	}
}

func TestReadFactsSince(t *testing.T) {
	server, _ := setupTestServer(t, false)
	now := time.Now()
	if err := server.engine.AddFacts(context.Background(), []mangle.Fact{
		{Predicate: "remote_failure", Args: []interface{}{"summary", "old"}, Timestamp: now.Add(-time.Hour)},
		{Predicate: "remote_failure", Args: []interface{}{"summary", "new"}, Timestamp: now},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	result, err := server.ExecuteTool("read-facts", map[string]interface{}{"predicate": "remote_failure", "since": "10m"})
	if err != nil {
		t.Fatalf("read-facts failed: %v", err)
	}
	if payload := result.(map[string]interface{}); payload["count"] != 1 {
		t.Errorf("expected one recent fact, got %v", payload["count"])
	}

	if _, err := server.ExecuteTool("read-facts", map[string]interface{}{"since": "10m"}); err == nil {
		t.Error("expected error for since without predicate")
	}
	if _, err := server.ExecuteTool("read-facts", map[string]interface{}{"predicate": "remote_failure", "since": "soon"}); err == nil {
		t.Error("expected error for malformed since")
	}
}
