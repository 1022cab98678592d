package chat

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/ragchat/internal/store"
)

// Request is one user message in a conversation.
type Request struct {
	ArticleID       *int64 `json:"articleId,omitempty"`
	ConversationKey string `json:"conversationKey"`
	Message         string `json:"message"`
	Hyde            bool   `json:"hyde,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.ConversationKey) == "" {
		return fmt.Errorf("%w: conversationKey is required", ErrValidation)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

// State is the lifecycle position of one exchange.
type State int32

const (
	StateInit State = iota
	StateAdmitted
	StateRejected
	StateContextAssembled
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAdmitted:
		return "admitted"
	case StateRejected:
		return "rejected"
	case StateContextAssembled:
		return "context_assembled"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

// Event is one item on a Stream. A stream carries tokens in generation order
// followed by exactly one EventDone or EventError, unless the caller cancels.
type Event struct {
	Kind   EventKind
	Token  string
	Answer string
	Err    error
}

// Stream is a running exchange.
type Stream struct {
	events <-chan Event
	state  atomic.Int32
}

// Events is closed once the exchange ends.
func (s *Stream) Events() <-chan Event { return s.events }

func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

// EvalRequest drives the offline evaluation path.
type EvalRequest struct {
	Query string `json:"query"`
	Hyde  bool   `json:"hyde"`
}

// EvalResult pairs an answer with the context it was grounded on.
type EvalResult struct {
	Answer   string   `json:"answer"`
	Contexts []string `json:"contexts"`
}

// HistoryQuery selects a page of a conversation, 1-based.
type HistoryQuery struct {
	ConversationKey string `query:"conversationKey" json:"conversationKey"`
	Current         int    `query:"current" json:"current"`
	Size            int    `query:"size" json:"size"`
}

type HistoryItem struct {
	Role      store.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
}

type HistoryPage struct {
	Records []HistoryItem `json:"records"`
	Total   int64         `json:"total"`
	Current int           `json:"current"`
	Size    int           `json:"size"`
}
