// Package modal is the panel state machine: a main chat panel and one expand
// panel, each independently closable.
package modal

import (
	"fmt"
	"sync"
)

// ExpandKind names the active expand panel.
type ExpandKind string

const (
	ExpandNone    ExpandKind = "none"
	ExpandPopular ExpandKind = "popular"
	ExpandInfo    ExpandKind = "info"
	ExpandCompare ExpandKind = "compare"
	ExpandSearch  ExpandKind = "search"
)

// ParseExpandKind validates a panel name coming from the page.
func ParseExpandKind(s string) (ExpandKind, error) {
	switch k := ExpandKind(s); k {
	case ExpandNone, ExpandPopular, ExpandInfo, ExpandCompare, ExpandSearch:
		return k, nil
	case "":
		return ExpandNone, nil
	default:
		return ExpandNone, fmt.Errorf("unknown expand panel %q", s)
	}
}

// State is a value snapshot of the router.
type State struct {
	MainOpen   bool       `json:"mainOpen"`
	ExpandOpen bool       `json:"expandOpen"`
	Expand     ExpandKind `json:"expand"`
	Selected   []string   `json:"selectedModelNo"`
}

// Closed is the initial state.
func Closed() State {
	return State{Expand: ExpandNone, Selected: []string{}}
}

func (s State) clone() State {
	out := s
	out.Selected = append([]string(nil), s.Selected...)
	if out.Selected == nil {
		out.Selected = []string{}
	}
	return out
}

func (s State) equal(o State) bool {
	if s.MainOpen != o.MainOpen || s.ExpandOpen != o.ExpandOpen || s.Expand != o.Expand {
		return false
	}
	if len(s.Selected) != len(o.Selected) {
		return false
	}
	for i := range s.Selected {
		if s.Selected[i] != o.Selected[i] {
			return false
		}
	}
	return true
}

// Router is total over its operations; no transition is rejected.
type Router struct {
	mu   sync.Mutex
	st   State
	subs []func(State)
}

// NewRouter returns a router in the Closed state.
func NewRouter() *Router {
	return &Router{st: Closed()}
}

// Subscribe registers fn to receive every state that differs from its predecessor.
func (r *Router) Subscribe(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.clone()
}

// apply runs one transition and notifies subscribers outside the lock.
func (r *Router) apply(mutate func(*State)) State {
	r.mu.Lock()
	next := r.st.clone()
	mutate(&next)
	changed := !next.equal(r.st)
	r.st = next
	subs := append([]func(State){}, r.subs...)
	r.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(next.clone())
		}
	}
	return next.clone()
}

func (r *Router) OpenMain() State {
	return r.apply(func(s *State) { s.MainOpen = true })
}

// CloseMain leaves the expand panel as it is.
func (r *Router) CloseMain() State {
	return r.apply(func(s *State) { s.MainOpen = false })
}

// OpenExpand replaces the active expand panel. ExpandNone closes it.
func (r *Router) OpenExpand(k ExpandKind) State {
	return r.apply(func(s *State) { openExpand(s, k) })
}

// OpenExpandWith opens k and forwards models in one transition.
func (r *Router) OpenExpandWith(k ExpandKind, models []string) State {
	return r.apply(func(s *State) {
		s.Selected = append([]string{}, models...)
		openExpand(s, k)
	})
}

// SelectModels replaces the forwarded model list wholesale.
func (r *Router) SelectModels(models []string) State {
	return r.apply(func(s *State) { s.Selected = append([]string{}, models...) })
}

func (r *Router) CloseExpand() State {
	return r.apply(closeExpand)
}

// CloseBackdrop closes both panels in a single transition.
func (r *Router) CloseBackdrop() State {
	return r.apply(func(s *State) {
		s.MainOpen = false
		closeExpand(s)
	})
}

func openExpand(s *State, k ExpandKind) {
	if k == ExpandNone || k == "" {
		closeExpand(s)
		return
	}
	s.ExpandOpen = true
	s.Expand = k
}

func closeExpand(s *State) {
	s.ExpandOpen = false
	s.Expand = ExpandNone
}
