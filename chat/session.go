package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/counselor/conversation"
)

type State int

const (
	StateIdle State = iota
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Session owns one user's conversation. At most one question is in flight
// per session; a concurrent Ask is rejected with ErrBusy.
type Session struct {
	ID string

	mu     sync.Mutex
	state  State
	memory conversation.Memory
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) History() []conversation.Turn {
	return s.memory.History()
}

func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGenerating {
		return false
	}
	s.state = StateGenerating
	return true
}

func (s *Session) finish(question, answer string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.memory.Append(question, answer)
	}
	s.state = StateIdle
}
