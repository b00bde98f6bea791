// Package bubble drives the summary bubble's fade and hide timers.
//
// The two timers are separate chains. Each has its own handle and generation
// token, and every reschedule cancels the previous handle first, so at most one
// fade and one hide callback are ever pending.
package bubble

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/clock"
)

var ErrAlreadyStarted = errors.New("bubble already started")

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseVisible Phase = "visible"
	PhaseFading  Phase = "fading"
	PhaseHidden  Phase = "hidden"
	// PhaseRemoved follows a user dismiss.
	PhaseRemoved Phase = "removed"
	// PhaseTornDown follows navigation away from the page.
	PhaseTornDown Phase = "torn_down"
)

// View applies visual flags to the rendered bubble. Implementations must not
// call back into the Controller.
type View interface {
	SetFading(ctx context.Context, on bool) error
	SetHidden(ctx context.Context, on bool) error
	Remove(ctx context.Context) error
}

// chain is one cancellable timer sequence.
type chain struct {
	timer clock.Timer
	gen   uint64
}

func (c *chain) cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

type Controller struct {
	mu        sync.Mutex
	clock     clock.Clock
	fadeAfter time.Duration
	hideAfter time.Duration
	logger    *zap.Logger
	onPhase   func(Phase)

	ctx   context.Context
	view  View
	phase Phase
	fade  chain
	hide  chain
}

type Options struct {
	FadeAfter time.Duration
	HideAfter time.Duration
	Logger    *zap.Logger
	// OnPhase is called with every phase change, under the controller lock.
	OnPhase func(Phase)
}

func New(c clock.Clock, opts Options) *Controller {
	if c == nil {
		c = clock.Real{}
	}
	if opts.FadeAfter <= 0 {
		opts.FadeAfter = 3 * time.Second
	}
	if opts.HideAfter <= 0 {
		opts.HideAfter = 12 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		clock:     c,
		fadeAfter: opts.FadeAfter,
		hideAfter: opts.HideAfter,
		logger:    opts.Logger,
		onPhase:   opts.OnPhase,
		phase:     PhaseIdle,
	}
}

// Start shows the bubble and schedules fade and hide from now. A controller
// serves exactly one bubble; later calls return ErrAlreadyStarted.
func (c *Controller) Start(ctx context.Context, view View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return ErrAlreadyStarted
	}
	c.ctx = ctx
	c.view = view
	c.setPhase(PhaseVisible)
	c.scheduleLocked()
	return nil
}

// OnHoverEnter cancels both timers and clears the fading and hidden flags.
func (c *Controller) OnHoverEnter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	c.fade.cancel()
	c.hide.cancel()
	if c.phase == PhaseFading || c.phase == PhaseHidden {
		c.apply("clear fading", c.view.SetFading, false)
		c.apply("clear hidden", c.view.SetHidden, false)
	}
	c.setPhase(PhaseVisible)
}

// OnHoverLeave restarts both windows from now.
func (c *Controller) OnHoverLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	c.scheduleLocked()
}

// Dismiss removes the bubble for good.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	c.fade.cancel()
	c.hide.cancel()
	if err := c.view.Remove(c.ctx); err != nil {
		c.logger.Warn("remove bubble", zap.Error(err))
	}
	c.setPhase(PhaseRemoved)
}

// Teardown cancels everything without touching the view; the page it lived on is gone.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fade.cancel()
	c.hide.cancel()
	if c.phase != PhaseRemoved && c.phase != PhaseTornDown {
		c.setPhase(PhaseTornDown)
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Pending reports which timers are scheduled.
func (c *Controller) Pending() (fade, hide bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fade.timer != nil, c.hide.timer != nil
}

func (c *Controller) liveLocked() bool {
	return c.phase != PhaseIdle && c.phase != PhaseRemoved && c.phase != PhaseTornDown
}

func (c *Controller) scheduleLocked() {
	c.fade.cancel()
	c.hide.cancel()
	fadeGen, hideGen := c.fade.gen, c.hide.gen
	c.fade.timer = c.clock.AfterFunc(c.fadeAfter, func() { c.fireFade(fadeGen) })
	c.hide.timer = c.clock.AfterFunc(c.hideAfter, func() { c.fireHide(hideGen) })
}

func (c *Controller) fireFade(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.fade.gen || !c.liveLocked() {
		return
	}
	c.fade.timer = nil
	c.apply("fade", c.view.SetFading, true)
	if c.phase == PhaseVisible {
		c.setPhase(PhaseFading)
	}
}

func (c *Controller) fireHide(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.hide.gen || !c.liveLocked() {
		return
	}
	c.hide.timer = nil
	c.apply("hide", c.view.SetHidden, true)
	c.setPhase(PhaseHidden)
}

func (c *Controller) apply(op string, fn func(context.Context, bool) error, on bool) {
	if err := fn(c.ctx, on); err != nil {
		c.logger.Warn("bubble view update failed", zap.String("op", op), zap.Error(err))
	}
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	if c.onPhase != nil {
		c.onPhase(p)
	}
}
