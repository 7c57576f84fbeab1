package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPreservesOrder(t *testing.T) {
	var m Memory
	m.Append("q1", "a1")
	m.Append("q2", "a2")

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, "q1", history[0].Question)
	assert.Equal(t, "a2", history[1].Answer)
	assert.Equal(t, 1, history[0].Order)
	assert.Equal(t, 2, history[1].Order)
	assert.False(t, history[1].At.Before(history[0].At))
}

func TestHistoryIsSnapshot(t *testing.T) {
	var m Memory
	m.Append("q1", "a1")

	snapshot := m.History()
	m.Append("q2", "a2")
	snapshot[0].Answer = "changed"

	assert.Len(t, snapshot, 1)
	assert.Equal(t, "a1", m.History()[0].Answer)
	assert.Equal(t, 2, m.Len())
}

func TestConcurrentAppend(t *testing.T) {
	var m Memory
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Append("q", "a")
		}()
	}
	wg.Wait()

	history := m.History()
	require.Len(t, history, 50)
	for i, turn := range history {
		assert.Equal(t, i+1, turn.Order)
	}
}
