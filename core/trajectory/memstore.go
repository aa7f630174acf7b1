package trajectory

import (
	"context"
	"sync"

	"github.com/goa-ai-labs/synapsecore/core/goal"
)

// memoryStore is the default in-process Store: a per-user snapshot guarded
// by one mutex. It is not durable across restarts; core/trajectory/redisstore
// provides that.
type memoryStore struct {
	mu    sync.Mutex
	users map[string]memoryUserState
}

type memoryUserState struct {
	recentTasks []goal.DNA
	insights    map[string]Insight
}

// NewMemoryStore returns a Store that keeps every user's state in process
// memory. Safe for concurrent use; callers still go through Service's
// per-user lock for the logical read-modify-write, this only protects the
// backing map itself.
func NewMemoryStore() Store {
	return &memoryStore{users: make(map[string]memoryUserState)}
}

func (m *memoryStore) Load(_ context.Context, userID string) ([]goal.DNA, map[string]Insight, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return nil, nil, false, nil
	}
	tasks := make([]goal.DNA, len(st.recentTasks))
	copy(tasks, st.recentTasks)
	insights := make(map[string]Insight, len(st.insights))
	for k, v := range st.insights {
		insights[k] = v
	}
	return tasks, insights, true, nil
}

func (m *memoryStore) Save(_ context.Context, userID string, recentTasks []goal.DNA, insights map[string]Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]goal.DNA, len(recentTasks))
	copy(tasks, recentTasks)
	ins := make(map[string]Insight, len(insights))
	for k, v := range insights {
		ins[k] = v
	}
	m.users[userID] = memoryUserState{recentTasks: tasks, insights: ins}
	return nil
}
