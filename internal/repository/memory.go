package repository

import (
	"context"
	"sync"

	"support-agent/internal/domain"
)

// Memory is an in-memory state store backed by a map. Safe for concurrent
// use; states are deep-copied on the way in and out so callers never share
// slices or maps with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]domain.ConversationState
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]domain.ConversationState)}
}

func (m *Memory) Get(_ context.Context, userID string) (domain.ConversationState, bool, error) {
	m.mu.RLock()
	state, ok := m.data[userID]
	m.mu.RUnlock()
	if !ok {
		return domain.ConversationState{}, false, nil
	}
	return state.Clone(), true, nil
}

func (m *Memory) Put(_ context.Context, userID string, state domain.ConversationState) error {
	cp := state.Clone()
	m.mu.Lock()
	m.data[userID] = cp
	m.mu.Unlock()
	return nil
}
