package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/overlay"
)

const liveListing = `<!doctype html><html><body>
<div class="menu01"><a href="#">menu</a></div>
<ul class="list">
<li class="item-inner"><div class="card-detail"><span>BESPOKE 냉장고</span><span>RF85C90D1AP</span></div></li>
<li class="item-inner"><div class="card-detail"><span>비스포크 김치플러스</span><span>RQ58C9442AP</span></div></li>
</ul>
<button id="morePrd">더보기</button>
</body></html>`

// TestLiveOverlayTab drives a real Chrome through the overlay tab.
func TestLiveOverlayTab(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, liveListing)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	headless := true
	cfg := config.DefaultConfig()
	cfg.Browser.Launch = []string{bin}
	cfg.Browser.Headless = &headless
	cfg.Browser.EventPollMs = 50
	cfg.Site.ListingURL = srv.URL + "/sec/refrigerators/all-refrigerators/"
	cfg.Site.DetailPrefix = srv.URL + "/sec/refrigerators/"

	manager := NewSessionManager(cfg.Browser, nil)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start browser: %v", err)
	}
	defer func() {
		if err := manager.Shutdown(ctx); err != nil {
			t.Logf("Shutdown warning: %v", err)
		}
	}()

	ctrl := overlay.New(overlay.Deps{Config: &cfg, Storage: NewSessionStorage(manager)})
	ctrl.Init(ctx)
	defer ctrl.Teardown()

	if _, err := manager.OpenOverlay(ctx, cfg.Site.ListingURL, ctrl); err != nil {
		t.Fatalf("OpenOverlay failed: %v", err)
	}

	waitFor(t, func() bool { return ctrl.Snapshot().Items == 2 })
	if !ctrl.Snapshot().Mounted {
		t.Error("expected mount point in live page")
	}

	page, _ := manager.Page()
	buttons, err := page.Elements("[data-chatda-compare]")
	if err != nil || len(buttons) != 2 {
		t.Fatalf("expected 2 compare buttons, got %d (%v)", len(buttons), err)
	}

	hover, err := page.Eval(`() => {
		const item = document.querySelector('[data-chatda-compare]').parentElement;
		const icon = item.querySelector('[data-chatda-compare] > img');
		item.dispatchEvent(new MouseEvent('mouseenter'));
		const shown = icon.style.display;
		const button = item.querySelector('[data-chatda-compare]');
		button.dispatchEvent(new MouseEvent('mouseenter'));
		const label = item.querySelector('[data-chatda-label]').style.display;
		item.dispatchEvent(new MouseEvent('mouseleave'));
		return [shown, label, icon.style.display].join(',');
	}`)
	if err != nil {
		t.Fatalf("hover failed: %v", err)
	}
	if got := hover.Value.Str(); got != "block,block,none" {
		t.Errorf("expected icon and label shown on hover and icon hidden after, got %q", got)
	}

	if _, err := page.Eval(`() => document.querySelector('[data-chatda-compare]').click()`); err != nil {
		t.Fatalf("click failed: %v", err)
	}

	waitFor(t, func() bool { return len(ctrl.Snapshot().Session.Compared) == 1 })
	got := ctrl.Snapshot().Session.Compared[0]
	if got.ModelNo != "RF85C90D1AP" {
		t.Errorf("unexpected compared product: %+v", got)
	}

	res, err := page.Eval(`() => sessionStorage.getItem('comparePrds')`)
	if err != nil || res.Value.Nil() {
		t.Errorf("expected compare set in sessionStorage, err=%v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
