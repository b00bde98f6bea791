package conversation

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Lechros/chatda/internal/clock"
)

// Kind classifies a message for the view layer.
type Kind string

const (
	KindCompare    Kind = "compare"
	KindInfo       Kind = "info"
	KindRecommend  Kind = "recommend"
	KindHome       Kind = "home"
	KindGeneral    Kind = "general"
	KindRanking    Kind = "ranking"
	KindSearch     Kind = "search"
	KindDictionary Kind = "dictionary"
	KindError      Kind = "error"
)

var knownKinds = map[Kind]bool{
	KindCompare: true, KindInfo: true, KindRecommend: true, KindHome: true, KindGeneral: true,
	KindRanking: true, KindSearch: true, KindDictionary: true, KindError: true,
}

// ParseKind maps a backend type string onto Kind. Unknown values become KindError.
func ParseKind(s string) Kind {
	if k := Kind(s); knownKinds[k] {
		return k
	}
	return KindError
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the conversation. Only IsTyping and IsLoading may
// change after append, and only from true to false.
type Message struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"type"`
	Content     string    `json:"content"`
	Sender      Sender    `json:"sender"`
	IsTyping    bool      `json:"isTyping"`
	IsCompared  bool      `json:"isCompared"`
	IsLoading   bool      `json:"isLoading"`
	ModelNo     string    `json:"modelNo,omitempty"`
	ModelNoList []string  `json:"modelNoList,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IDGenerator issues session-unique ids of the form "<unixMilli>-<seq>".
// The counter alone guarantees uniqueness; the timestamp keeps ids readable.
type IDGenerator struct {
	clock clock.Clock
	seq   atomic.Uint64
}

func NewIDGenerator(c clock.Clock) *IDGenerator {
	if c == nil {
		c = clock.Real{}
	}
	return &IDGenerator{clock: c}
}

func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	return fmt.Sprintf("%d-%d", g.clock.Now().UnixMilli(), n)
}
