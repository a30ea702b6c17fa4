package usecase

import (
	"strings"
	"sync"

	"support-agent/internal/domain"
)

// Handler produces the response for a classified category, bypassing the
// generation and confidence-scoring path entirely. Handler errors are the
// host's responsibility and propagate out of Chat unmasked.
type Handler func(state domain.ConversationState) (domain.HandlerResponse, error)

// handlerRegistry is the per-service handler table. It is owned by one
// AgentService instance so multiple agent configurations can coexist in a
// process.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[string]Handler)}
}

func (r *handlerRegistry) register(category string, h Handler) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return newError(ErrorInvalidInput, "empty_handler_category", nil)
	}
	if h == nil {
		return newError(ErrorInvalidInput, "nil_handler", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[category]; exists {
		return newError(ErrorInvalidInput, "handler_already_registered", nil)
	}
	r.handlers[category] = h
	return nil
}

func (r *handlerRegistry) unregister(category string) {
	r.mu.Lock()
	delete(r.handlers, category)
	r.mu.Unlock()
}

func (r *handlerRegistry) lookup(category string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[category]
	r.mu.RUnlock()
	return h, ok
}

// RegisterHandler registers a category handler. Registration fails with an
// INVALID_INPUT error on an empty category, a nil handler, or a category
// that already has a handler. A handler for a category missing from the
// profile's classification list is accepted but logged, since it may never
// be dispatched.
func (s *AgentService) RegisterHandler(category string, h Handler) error {
	if err := s.registry.register(category, h); err != nil {
		return err
	}
	if !containsCategory(s.profile.Categories(), category) {
		s.logger.Warn("handler registered for category not in classification list; it may never be called",
			"category", category)
	}
	return nil
}

// UnregisterHandler removes the handler for a category, if any.
func (s *AgentService) UnregisterHandler(category string) {
	s.registry.unregister(category)
}

func containsCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}
