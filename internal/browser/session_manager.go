package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Lechros/chatda/internal/adapter"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/dom"
	"github.com/Lechros/chatda/internal/overlay"
)

var (
	ErrNotConnected = errors.New("browser not connected")
	ErrNoTab        = errors.New("overlay tab not open")
)

// Session describes the overlay tab.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Overlay is what the tab drives: one call per top-level navigation and one
// per drained page event.
type Overlay interface {
	OnNavigate(ctx context.Context, doc dom.Document, url string) (adapter.PageContext, error)
	HandleEvent(ctx context.Context, ev overlay.Event) error
}

type tab struct {
	mu         sync.Mutex
	meta       Session
	page       *rod.Page
	removeHook func() error
	cancel     context.CancelFunc
	done       chan struct{}
}

// SessionManager owns the Chrome connection and the single overlay tab.
type SessionManager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	tab        *tab
}

func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, logger: logger}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection, reconnecting")
		if t := m.detachTabLocked(); t != nil {
			go t.close()
		}
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = b
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *SessionManager) launch() (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	for _, raw := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Fallback: let Rod pick the port and defaults.
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenOverlay opens the overlay tab, installs the page hook before any host
// script runs, and starts feeding navigations and events to ov. An earlier
// tab is closed first. The stream outlives ctx and ends with the tab.
func (m *SessionManager) OpenOverlay(ctx context.Context, url string, ov Overlay) (*Session, error) {
	m.mu.Lock()
	b := m.browser
	old := m.detachTabLocked()
	m.mu.Unlock()
	if b == nil {
		return nil, ErrNotConnected
	}
	if old != nil {
		old.close()
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		m.logger.Warn("set viewport", zap.Error(err))
	}
	remove, err := page.EvalOnNewDocument(hookScript)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("install page hook: %w", err)
	}

	now := time.Now()
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &tab{
		meta: Session{
			ID:         uuid.NewString(),
			TargetID:   string(page.TargetID),
			URL:        url,
			Status:     "active",
			CreatedAt:  now,
			LastActive: now,
		},
		page:       page,
		removeHook: remove,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.mu.Lock()
	m.tab = t
	m.mu.Unlock()

	go func() {
		defer close(t.done)
		if err := m.stream(streamCtx, t, ov); err != nil {
			m.logger.Warn("overlay stream stopped", zap.Error(err))
		}
	}()

	if url != "" {
		if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			m.logger.Warn("initial navigation", zap.String("url", url), zap.Error(err))
		}
	}
	meta := t.session()
	return &meta, nil
}

// Navigate loads url in the overlay tab.
func (m *SessionManager) Navigate(ctx context.Context, url string) error {
	page, ok := m.Page()
	if !ok {
		return ErrNoTab
	}
	tp := page.Context(ctx).Timeout(m.cfg.NavigationTimeout())
	defer tp.CancelTimeout()
	if err := tp.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Page returns the overlay tab when open.
func (m *SessionManager) Page() (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tab == nil {
		return nil, false
	}
	return m.tab.page, true
}

// GetSession returns the overlay tab metadata.
func (m *SessionManager) GetSession() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tab == nil {
		return Session{}, false
	}
	return m.tab.session(), true
}

func (t *tab) session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *tab) touch(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta.URL = url
	t.meta.LastActive = time.Now()
}

// close stops the stream and closes the page. It must not run under the
// manager lock: overlay handlers still in flight may read the tab.
func (t *tab) close() {
	t.cancel()
	<-t.done
	if t.removeHook != nil {
		_ = t.removeHook()
	}
	_ = t.page.Close()
}

// Shutdown closes the overlay tab and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	t := m.detachTabLocked()
	m.mu.Unlock()
	if t != nil {
		t.close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

func (m *SessionManager) detachTabLocked() *tab {
	t := m.tab
	m.tab = nil
	return t
}

// stream runs until ctx ends. Navigations are handled in order on one
// goroutine; page events are drained on a ticker.
func (m *SessionManager) stream(ctx context.Context, t *tab, ov Overlay) error {
	g, gctx := errgroup.WithContext(ctx)
	p := t.page.Context(gctx)
	navs := make(chan string, 8)

	wait := p.EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		t.touch(ev.Frame.URL)
		select {
		case navs <- ev.Frame.URL:
		default:
			m.logger.Warn("navigation queue full, dropping", zap.String("url", ev.Frame.URL))
		}
	})
	g.Go(func() error {
		wait()
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case url := <-navs:
				tp := p.Timeout(m.cfg.NavigationTimeout())
				if err := tp.WaitLoad(); err != nil {
					m.logger.Debug("wait load", zap.String("url", url), zap.Error(err))
				}
				tp.CancelTimeout()
				if _, err := ov.OnNavigate(gctx, NewPageDocument(p), url); err != nil {
					m.logger.Warn("overlay navigation", zap.String("url", url), zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.EventPollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				events, err := drainEvents(p)
				if err != nil {
					// Usually a navigation tore down the execution context.
					continue
				}
				for _, ev := range events {
					if err := ov.HandleEvent(gctx, ev); err != nil {
						m.logger.Debug("page event ignored", zap.String("type", string(ev.Type)), zap.Error(err))
					}
				}
			}
		}
	})

	return g.Wait()
}
