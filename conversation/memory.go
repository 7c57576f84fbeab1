// Package conversation keeps the ordered question/answer log of a session.
package conversation

import (
	"sync"
	"time"
)

type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Order    int       `json:"order"`
	At       time.Time `json:"at"`
}

// Memory is an append-only, unbounded turn log. The zero value is ready to
// use.
type Memory struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append records a turn, stamping its Order and time.
func (m *Memory) Append(question, answer string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	turn := Turn{
		Question: question,
		Answer:   answer,
		Order:    len(m.turns) + 1,
		At:       time.Now().UTC(),
	}
	m.turns = append(m.turns, turn)
	return turn
}

// History returns a snapshot; later appends do not show up in it.
func (m *Memory) History() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}
