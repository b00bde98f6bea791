package overlay

import "errors"

// EventType names a page interaction delivered by the injected hook.
type EventType string

const (
	EventOpenMain      EventType = "open-main"
	EventCloseMain     EventType = "close-main"
	EventOpenExpand    EventType = "open-expand"
	EventCloseExpand   EventType = "close-expand"
	EventBackdrop      EventType = "backdrop"
	EventCompare       EventType = "compare"
	EventLoadMore      EventType = "load-more"
	EventBubbleEnter   EventType = "bubble-enter"
	EventBubbleLeave   EventType = "bubble-leave"
	EventBubbleDismiss EventType = "bubble-dismiss"
	EventTypingDone    EventType = "typing-done"
	EventSelectModels  EventType = "select-models"
)

var ErrUnknownEvent = errors.New("unknown overlay event")

// Event is one interaction. Item carries a node key for compare clicks or a
// message id for typing-done. Kind and Models apply to open-expand; Models
// alone to select-models.
type Event struct {
	Type   EventType `json:"type"`
	Item   string    `json:"item,omitempty"`
	Kind   string    `json:"kind,omitempty"`
	Models []string  `json:"models,omitempty"`
}
