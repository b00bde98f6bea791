// Package overlay wires the page adapter, panel router, summary bubble and
// session state into one controller driven by navigations and page events.
//
// Every handler runs under the controller lock. Remote reads happen outside
// it and are applied only if no navigation happened in the meantime.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/adapter"
	"github.com/Lechros/chatda/internal/backend"
	"github.com/Lechros/chatda/internal/bubble"
	"github.com/Lechros/chatda/internal/clock"
	"github.com/Lechros/chatda/internal/compare"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/conversation"
	"github.com/Lechros/chatda/internal/dom"
	"github.com/Lechros/chatda/internal/mangle"
	"github.com/Lechros/chatda/internal/modal"
	"github.com/Lechros/chatda/internal/mount"
	"github.com/Lechros/chatda/internal/storage"
)

var (
	ErrNotInitialized = errors.New("overlay not initialized")
	ErrNoDocument     = errors.New("no document loaded")
	ErrNotListing     = errors.New("current page is not the listing page")
)

// FactSink receives overlay activity facts.
type FactSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// TraceSink receives trace entries.
type TraceSink interface {
	Log(kind string, nav uint64, data interface{})
}

type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Clock   clock.Clock
	Storage storage.Store
	Summary backend.SummaryFetcher
	Chat    backend.ChatSender
	Facts   FactSink
	Trace   TraceSink
	// Session identifies the conversation to the assistant backend.
	Session string
}

type Controller struct {
	cfg     *config.Config
	logger  *zap.Logger
	clock   clock.Clock
	summary backend.SummaryFetcher
	chat    backend.ChatSender
	facts   FactSink
	trace   TraceSink
	session string

	adapter *adapter.Adapter
	mounts  *mount.Manager
	router  *modal.Router
	state   *State
	ids     *conversation.IDGenerator

	mu          sync.Mutex
	root        context.Context
	initialized bool
	navSeq      uint64
	navCtx      context.Context
	navCancel   context.CancelFunc
	doc         dom.Document
	page        adapter.PageContext
	mountPoint  mount.MountHandle
	gen         *adapter.Generation
	bubble      *bubble.Controller
	rescan      clock.Timer
	rescanSeq   uint64
	fetches     sync.WaitGroup
}

func New(d Deps) *Controller {
	cfg := d.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Storage == nil {
		d.Storage = storage.NewMemory()
	}
	c := &Controller{
		cfg:     cfg,
		logger:  d.Logger,
		clock:   d.Clock,
		summary: d.Summary,
		chat:    d.Chat,
		facts:   d.Facts,
		trace:   d.Trace,
		session: d.Session,
		adapter: adapter.New(cfg.Site),
		mounts: &mount.Manager{
			MountID:    cfg.Site.MountID,
			LauncherID: cfg.Site.LauncherID,
			IconURL:    cfg.Site.IconURL,
		},
		router: modal.NewRouter(),
		state:  NewState(d.Storage, d.Logger),
		ids:    conversation.NewIDGenerator(d.Clock),
		page:   adapter.PageContext{Kind: adapter.PageOther},
	}
	return c
}

// Init binds the controller to ctx, which bounds every background fetch.
// Persisted state is not restored here.
func (c *Controller) Init(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return
	}
	c.root = ctx
	c.navCtx, c.navCancel = context.WithCancel(ctx)
	c.router.Subscribe(c.onPanelChange)
	c.initialized = true
}

// onPanelChange runs inside router transitions, which only happen under c.mu.
func (c *Controller) onPanelChange(st modal.State) {
	if err := c.mountPoint.Publish(c.root, st); err != nil {
		c.logger.Debug("publish panel state", zap.Error(err))
	}
	c.record("panel_state", st.MainOpen, st.ExpandOpen, string(st.Expand))
	c.traceLocked("panel", st)
}

// OnNavigate resets per-page state and sets the overlay up for url. Host
// markup problems are logged and recorded, never returned.
func (c *Controller) OnNavigate(ctx context.Context, doc dom.Document, url string) (adapter.PageContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return adapter.PageContext{}, ErrNotInitialized
	}

	c.teardownPageLocked()
	c.navSeq++
	c.navCtx, c.navCancel = context.WithCancel(c.root)
	c.doc = doc
	c.page = c.adapter.Classify(url)

	anchor := c.cfg.Site.AnchorSelector
	if mp, err := c.mounts.EnsureMountPoint(ctx, doc, anchor); err != nil {
		c.drift("mount", err)
	} else {
		c.mountPoint = mp
		if err := mp.Publish(ctx, c.router.State()); err != nil {
			c.logger.Debug("publish panel state", zap.Error(err))
		}
	}
	if _, err := c.mounts.EnsureLauncher(ctx, doc, anchor); err != nil {
		c.drift("launcher", err)
	}

	c.record("page_context", url, string(c.page.Kind), c.page.ModelNo)
	c.traceLocked("navigate", c.page)
	c.logger.Info("page classified",
		zap.String("url", url),
		zap.String("kind", string(c.page.Kind)),
		zap.String("model", c.page.ModelNo),
		zap.Uint64("nav", c.navSeq))

	switch c.page.Kind {
	case adapter.PageListing:
		c.rescanLocked(ctx)
	case adapter.PageDetail:
		c.fetchSummaryLocked(c.page.ModelNo)
	}
	return c.page, nil
}

// teardownPageLocked cancels everything scoped to the current page.
func (c *Controller) teardownPageLocked() {
	if c.navCancel != nil {
		c.navCancel()
	}
	if c.rescan != nil {
		c.rescan.Stop()
		c.rescan = nil
	}
	if c.bubble != nil {
		c.bubble.Teardown()
		c.bubble = nil
	}
	c.gen.Invalidate()
	c.gen = nil
	c.mountPoint = mount.MountHandle{}
	c.doc = nil
}

// ListingSummary describes one scan generation.
type ListingSummary struct {
	Generation uint64 `json:"generation"`
	Items      int    `json:"items"`
	Decorated  int    `json:"decorated"`
	LoadMore   bool   `json:"loadMoreBound"`
}

// Rescan scans and decorates the listing immediately.
func (c *Controller) Rescan(ctx context.Context) (ListingSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return ListingSummary{}, ErrNoDocument
	}
	if c.page.Kind != adapter.PageListing {
		return ListingSummary{}, ErrNotListing
	}
	return c.rescanLocked(ctx), nil
}

func (c *Controller) rescanLocked(ctx context.Context) ListingSummary {
	c.gen.Invalidate()
	c.gen = nil

	gen, err := c.adapter.ScanListing(ctx, c.doc)
	if err != nil {
		c.drift("listing", err)
		return ListingSummary{}
	}
	decorated := 0
	for _, h := range gen.Handles {
		added, err := c.adapter.Decorate(ctx, h)
		if err != nil {
			c.logger.Debug("decorate item", zap.String("key", h.Key), zap.Error(err))
			continue
		}
		if added {
			decorated++
		}
	}
	c.gen = gen
	sum := ListingSummary{Generation: gen.ID, Items: gen.Len(), Decorated: decorated, LoadMore: gen.LoadMoreBound}
	c.record("listing_scan", gen.ID, gen.Len(), decorated)
	c.traceLocked("scan", sum)
	return sum
}

// scheduleRescanLocked re-scans after the host has had time to render the
// next page of items. A pending re-scan is replaced, not duplicated.
func (c *Controller) scheduleRescanLocked() {
	if c.rescan != nil {
		c.rescan.Stop()
	}
	c.rescanSeq++
	nav, token := c.navSeq, c.rescanSeq
	c.rescan = c.clock.AfterFunc(c.cfg.Site.RescanDelayDuration(), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if nav != c.navSeq || token != c.rescanSeq || c.doc == nil {
			return
		}
		c.rescan = nil
		c.rescanLocked(c.navCtx)
	})
}

func (c *Controller) fetchSummaryLocked(model string) {
	if c.summary == nil {
		return
	}
	seq, ctx := c.navSeq, c.navCtx
	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()
		text, err := c.summary.Summary(ctx, model)

		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.navSeq {
			return
		}
		if err != nil {
			c.remoteFailure("summary", err)
			return
		}
		c.showBubbleLocked(ctx, model, text)
	}()
}

// showBubbleLocked renders the one bubble of this detail visit.
func (c *Controller) showBubbleLocked(ctx context.Context, model, text string) {
	if c.bubble != nil {
		return
	}
	parent := c.mountPoint.Node()
	if parent == nil {
		c.logger.Warn("summary ready but no mount point", zap.String("model", model))
		return
	}
	view, err := bubble.Mount(ctx, parent, c.cfg.Bubble.Header, text)
	if err != nil {
		c.drift("bubble", err)
		return
	}
	nav := c.navSeq
	b := bubble.New(c.clock, bubble.Options{
		FadeAfter: c.cfg.Bubble.FadeDuration(),
		HideAfter: c.cfg.Bubble.HideDuration(),
		Logger:    c.logger,
		OnPhase: func(p bubble.Phase) {
			c.record("bubble_phase", model, string(p))
			if c.trace != nil {
				c.trace.Log("bubble", nav, map[string]string{"model": model, "phase": string(p)})
			}
		},
	})
	if err := b.Start(ctx, view); err != nil {
		c.logger.Warn("start bubble", zap.Error(err))
		return
	}
	c.bubble = b
}

// HandleEvent dispatches one page interaction. Errors describe why the event
// was ignored; they never leave the overlay in a partial state.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic", zap.String("type", string(ev.Type)), zap.Any("panic", r))
			err = fmt.Errorf("handle %s: panic: %v", ev.Type, r)
		}
	}()
	if !c.initialized {
		return ErrNotInitialized
	}

	switch ev.Type {
	case EventOpenMain:
		c.router.OpenMain()
	case EventCloseMain:
		c.router.CloseMain()
	case EventOpenExpand:
		kind, err := modal.ParseExpandKind(ev.Kind)
		if err != nil {
			return err
		}
		c.openExpandLocked(kind, ev.Models)
	case EventSelectModels:
		c.router.SelectModels(ev.Models)
	case EventCloseExpand:
		c.router.CloseExpand()
	case EventBackdrop:
		c.router.CloseBackdrop()
	case EventCompare:
		_, err := c.compareLocked(ctx, ev.Item)
		return err
	case EventLoadMore:
		if c.page.Kind == adapter.PageListing {
			c.scheduleRescanLocked()
		}
	case EventBubbleEnter:
		if c.bubble != nil {
			c.bubble.OnHoverEnter()
		}
	case EventBubbleLeave:
		if c.bubble != nil {
			c.bubble.OnHoverLeave()
		}
	case EventBubbleDismiss:
		if c.bubble != nil {
			c.bubble.Dismiss()
		}
	case EventTypingDone:
		return c.state.UpdateTyping(ctx, ev.Item, false)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

// Panel transitions for callers outside the page.
func (c *Controller) OpenMain() modal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.OpenMain()
}

func (c *Controller) OpenExpand(kind modal.ExpandKind, models []string) modal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openExpandLocked(kind, models)
}

// openExpandLocked opens the compare panel on every compared product unless
// models names a selection.
func (c *Controller) openExpandLocked(kind modal.ExpandKind, models []string) modal.State {
	if models == nil && kind == modal.ExpandCompare {
		models = c.state.ComparedModels()
	}
	if models != nil {
		return c.router.OpenExpandWith(kind, models)
	}
	return c.router.OpenExpand(kind)
}

func (c *Controller) CloseMain() modal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.CloseMain()
}

func (c *Controller) CloseExpand() modal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.CloseExpand()
}

func (c *Controller) CloseBackdrop() modal.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.CloseBackdrop()
}

// CompareResult reports the outcome of a compare click.
type CompareResult struct {
	Added   bool            `json:"added"`
	Product compare.Product `json:"product"`
}

// Compare handles a compare click on the item with the given node key.
func (c *Controller) Compare(ctx context.Context, key string) (CompareResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compareLocked(ctx, key)
}

// CompareIndex handles a compare click on the i-th item of the current scan.
func (c *Controller) CompareIndex(ctx context.Context, i int) (CompareResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == nil || i < 0 || i >= c.gen.Len() {
		return CompareResult{}, fmt.Errorf("item index %d: %w", i, adapter.ErrStaleHandle)
	}
	return c.compareLocked(ctx, c.gen.Handles[i].Key)
}

func (c *Controller) compareLocked(ctx context.Context, key string) (CompareResult, error) {
	h, ok := c.gen.Resolve(key)
	if !ok {
		return CompareResult{}, fmt.Errorf("item %q: %w", key, adapter.ErrStaleHandle)
	}
	ev, err := c.adapter.OnCompareClick(ctx, h, c.ids, c.clock.Now())
	if err != nil {
		c.drift("product", err)
		return CompareResult{}, err
	}
	added, err := c.state.AddComparison(ctx, ev)
	if err != nil {
		return CompareResult{}, err
	}
	if added {
		c.record("compare_added", ev.Product.ModelNo, ev.Product.Name, ev.Message.ID)
		c.record("chat_turn", ev.Message.ID, string(ev.Message.Kind), string(ev.Message.Sender))
	} else {
		c.record("compare_rejected", ev.Product.ModelNo)
	}
	c.traceLocked("compare", map[string]interface{}{"added": added, "modelNo": ev.Product.ModelNo})
	return CompareResult{Added: added, Product: ev.Product}, nil
}

// SendMessage appends the user's turn and a loading placeholder, asks the
// assistant without holding the lock, then appends the reply. When the call
// fails an error-kind reply is appended and returned together with the error.
func (c *Controller) SendMessage(ctx context.Context, content string, search bool) (conversation.Message, error) {
	if c.chat == nil {
		return conversation.Message{}, fmt.Errorf("send message: no assistant backend: %w", backend.ErrRemoteFetchFailed)
	}
	kind := conversation.KindGeneral
	if search {
		kind = conversation.KindSearch
	}

	c.mu.Lock()
	now := c.clock.Now()
	user := conversation.Message{ID: c.ids.Next(), Kind: kind, Content: content, Sender: conversation.SenderUser, CreatedAt: now}
	placeholder := conversation.Message{ID: c.ids.Next(), Kind: kind, Sender: conversation.SenderAssistant, IsLoading: true, CreatedAt: now}
	err := c.state.Append(ctx, user)
	if err == nil {
		err = c.state.Append(ctx, placeholder)
	}
	c.mu.Unlock()
	if err != nil {
		return conversation.Message{}, err
	}

	req := backend.ChatRequest{UUID: c.session, Content: content}
	var resp backend.ChatResponse
	if search {
		resp, err = c.chat.Search(ctx, req)
	} else {
		resp, err = c.chat.Chat(ctx, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if uerr := c.state.UpdateLoading(ctx, placeholder.ID, false); uerr != nil {
		c.logger.Warn("clear loading flag", zap.Error(uerr))
	}
	reply := conversation.Message{ID: c.ids.Next(), Sender: conversation.SenderAssistant, IsTyping: true, CreatedAt: c.clock.Now()}
	if err != nil {
		c.remoteFailure("chat", err)
		reply.Kind = conversation.KindError
		reply.Content = "답변을 가져오지 못했어요. 잠시 후 다시 시도해 주세요."
	} else {
		reply.Kind = conversation.ParseKind(resp.Type)
		reply.Content = resp.Content
		reply.ModelNo = resp.ModelNo
		reply.ModelNoList = resp.ModelNoList
	}
	if aerr := c.state.Append(ctx, reply); aerr != nil {
		return conversation.Message{}, aerr
	}
	c.record("chat_turn", reply.ID, string(reply.Kind), string(reply.Sender))
	c.traceLocked("chat", map[string]string{"kind": string(reply.Kind), "id": reply.ID})
	return reply, err
}

// RestoreSession reloads persisted messages and comparisons.
func (c *Controller) RestoreSession(ctx context.Context) (messages, compared int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages, compared, err = c.state.Restore(ctx)
	if err != nil {
		return messages, compared, err
	}
	c.traceLocked("restore", map[string]int{"messages": messages, "compared": compared})
	return messages, compared, nil
}

// Snapshot is a read-only view of everything the overlay holds.
type Snapshot struct {
	Nav        uint64              `json:"nav"`
	Page       adapter.PageContext `json:"page"`
	Panels     modal.State         `json:"panels"`
	Generation uint64              `json:"generation"`
	Items      int                 `json:"items"`
	Bubble     bubble.Phase        `json:"bubble"`
	Mounted    bool                `json:"mounted"`
	Session    SessionView         `json:"session"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Nav:     c.navSeq,
		Page:    c.page,
		Panels:  c.router.State(),
		Bubble:  bubble.PhaseIdle,
		Mounted: c.mountPoint.Node() != nil,
		Session: c.state.View(),
	}
	if c.gen != nil {
		s.Generation = c.gen.ID
		s.Items = c.gen.Len()
	}
	if c.bubble != nil {
		s.Bubble = c.bubble.Phase()
	}
	return s
}

// Settle blocks until in-flight summary fetches have been applied or dropped.
func (c *Controller) Settle() {
	c.fetches.Wait()
}

// Teardown cancels page work and waits for in-flight fetches to finish.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.teardownPageLocked()
	c.navSeq++
	c.mu.Unlock()
	c.fetches.Wait()
}

func (c *Controller) drift(component string, err error) {
	c.logger.Warn("host structure drift", zap.String("component", component), zap.Error(err))
	c.record("host_drift", component, err.Error())
}

func (c *Controller) remoteFailure(op string, err error) {
	c.logger.Warn("remote fetch failed", zap.String("op", op), zap.Error(err))
	c.record("remote_failure", op, err.Error())
}

func (c *Controller) record(predicate string, args ...interface{}) {
	if c.facts == nil {
		return
	}
	ctx := c.root
	if ctx == nil {
		ctx = context.Background()
	}
	fact := mangle.Fact{Predicate: predicate, Args: args, Timestamp: c.clock.Now()}
	if err := c.facts.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
		c.logger.Debug("record fact", zap.String("predicate", predicate), zap.Error(err))
	}
}

func (c *Controller) traceLocked(kind string, data interface{}) {
	if c.trace != nil {
		c.trace.Log(kind, c.navSeq, data)
	}
}
