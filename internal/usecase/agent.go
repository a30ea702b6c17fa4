// Package usecase implements the conversation turn state machine: classify
// the incoming message, gather category requirements, route to a registered
// handler or the generation path, score confidence, and escalate when the
// response is not good enough to send.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"support-agent/internal/domain"
)

const (
	defaultConfidenceThreshold = 0.7

	// maxRequirementAsks is how many times one category may ask the user
	// for missing fields before the turn is escalated instead.
	maxRequirementAsks = 2

	// knowledgeMaxResults bounds the best-effort retrieval joined into the
	// generation prompt.
	knowledgeMaxResults = 3

	apologyGenericText = "I apologize, but I couldn't process your request."
	apologyErrorText   = "I apologize, but I encountered an error while processing your request. Please try again."

	defaultEscalationText = "Your request is being reviewed by our team and we'll get back to you shortly."
)

// Oracle is the external text-completion capability. One prompt in, one
// completion out; no retries and no timeout beyond what ctx imposes.
type Oracle interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// StateStore holds one ConversationState per user id. Put is
// last-write-wins: concurrent turns for the same user race on
// read-modify-write and the final Put sticks. Callers needing
// serialization must impose it externally.
type StateStore interface {
	// Get returns the state for userID. ok is false for a new user.
	Get(ctx context.Context, userID string) (state domain.ConversationState, ok bool, err error)
	// Put persists the state, replacing whatever was there.
	Put(ctx context.Context, userID string, state domain.ConversationState) error
}

// Retriever is the external knowledge collaborator: given a query, return
// relevant text. Consulted best-effort during generation.
type Retriever interface {
	Retrieve(ctx context.Context, query string, maxResults int) (string, error)
}

// Profile is the host-supplied agent configuration, polled once per
// decision point rather than cached.
type Profile interface {
	Categories() []string
	Requirements() []domain.CategoryRequirement
	Personality() string
	ToolNames() []string
}

// EscalationHandler produces the hand-off response used when confidence is
// too low or requirement gathering is exhausted.
type EscalationHandler func(state domain.ConversationState) domain.HandlerResponse

func defaultEscalation(domain.ConversationState) domain.HandlerResponse {
	return domain.HandlerResponse{Messages: []domain.Message{
		{Role: domain.RoleAssistant, Content: defaultEscalationText},
	}}
}

// ServiceConfig wires an AgentService. Oracle, Store and Profile are
// required; everything else has a default.
type ServiceConfig struct {
	Oracle    Oracle
	Store     StateStore
	Profile   Profile
	Knowledge Retriever // optional

	Model               string
	ConfidenceThreshold float64
	Scorer              Scorer
	Escalation          EscalationHandler
	Logger              *slog.Logger

	// Test seams; oracle-backed implementations are installed when nil.
	Classifier Classifier
	Checker    RequirementChecker
	Topics     TopicDetector
}

// AgentService executes one conversation turn per Chat call. Turns for
// different users are fully independent and may run concurrently.
type AgentService struct {
	oracle    Oracle
	store     StateStore
	profile   Profile
	knowledge Retriever

	classifier Classifier
	checker    RequirementChecker
	topics     TopicDetector
	scorer     Scorer
	escalate   EscalationHandler
	registry   *handlerRegistry

	model     string
	threshold float64
	logger    *slog.Logger
}

func NewAgentService(cfg ServiceConfig) (*AgentService, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("usecase: oracle must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if cfg.Profile == nil {
		return nil, errors.New("usecase: profile must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = LengthScorer{}
	}
	escalate := cfg.Escalation
	if escalate == nil {
		escalate = defaultEscalation
	}

	s := &AgentService{
		oracle:    cfg.Oracle,
		store:     cfg.Store,
		profile:   cfg.Profile,
		knowledge: cfg.Knowledge,
		scorer:    scorer,
		escalate:  escalate,
		registry:  newHandlerRegistry(),
		model:     cfg.Model,
		threshold: threshold,
		logger:    logger,
	}

	s.classifier = cfg.Classifier
	if s.classifier == nil {
		s.classifier = &oracleClassifier{oracle: cfg.Oracle, model: cfg.Model, logger: logger}
	}
	s.checker = cfg.Checker
	if s.checker == nil {
		s.checker = &oracleChecker{oracle: cfg.Oracle, model: cfg.Model, logger: logger}
	}
	s.topics = cfg.Topics
	if s.topics == nil {
		s.topics = &oracleTopicDetector{oracle: cfg.Oracle, model: cfg.Model, logger: logger}
	}
	return s, nil
}

// Chat runs one turn for userID and returns the assistant's reply.
//
// Oracle failures never surface as errors: every call site degrades to its
// documented fallback and generation failures become a fixed apology.
// Handler errors, by contrast, propagate: a host-supplied handler's bugs
// are not masked.
func (s *AgentService) Chat(ctx context.Context, message, userID string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", newError(ErrorInvalidInput, "empty_user_id", nil)
	}

	state := s.loadState(ctx, userID)
	state.Append(domain.RoleUser, message)
	state.WorkflowStep = "append"

	categories := s.profile.Categories()
	if len(categories) == 0 {
		// Classification unconfigured: straight to the generation path.
		state.Category = CategoryDefault
		return s.generateAndFinish(ctx, userID, &state, message)
	}

	// Topic continuity is judged against the history as it stood before
	// this message, and the per-topic scratch state is reset before the
	// classification result is known: a new topic must not inherit stale
	// attempt counters from the previous one.
	state.WorkflowStep = "classify"
	if s.topics.IsNewTopic(ctx, message, state.RecentUserContents(continuityLookback)) {
		state.MissingRequirements = nil
		state.RequirementAttempts = nil
	} else {
		state.MissingRequirements = nil
	}

	state.Category = s.classifier.Classify(ctx, message, categories)

	if state.Category != CategoryDefault && state.Category != "" &&
		len(requiredFieldsFor(state.Category, s.profile.Requirements())) > 0 {
		state.WorkflowStep = "check_requirements"
		satisfied, missing := s.checker.Check(ctx, message, state.Category, s.profile.Requirements(), state.Messages)
		if !satisfied {
			return s.askOrEscalate(ctx, userID, &state, message, missing)
		}
	}

	state.WorkflowStep = "route"
	if h, ok := s.registry.lookup(state.Category); ok {
		return s.runHandler(ctx, userID, &state, h)
	}

	return s.generateAndFinish(ctx, userID, &state, message)
}

// askOrEscalate handles an unsatisfied requirement check: ask for the
// missing fields, or escalate once the category has been asked enough.
// Either way the turn ends here.
func (s *AgentService) askOrEscalate(ctx context.Context, userID string, state *domain.ConversationState, message string, missing []string) (string, error) {
	state.MissingRequirements = missing
	if state.RequirementAttempts == nil {
		state.RequirementAttempts = make(map[string]int)
	}
	state.RequirementAttempts[state.Category]++

	if state.RequirementAttempts[state.Category] > maxRequirementAsks {
		state.WorkflowStep = "escalate"
		state.NeedsEscalation = true
		resp := s.escalate(state.Clone())
		state.Messages = append(state.Messages, resp.Messages...)
		s.logger.Info("requirement gathering exhausted, escalating",
			"user_id", userID, "category", state.Category, "missing", missing)
		return s.finish(ctx, userID, state)
	}

	state.WorkflowStep = "check_requirements"
	followUp, err := s.oracle.Complete(ctx, s.model, buildFollowUpPrompt(message, missing))
	if err != nil || strings.TrimSpace(followUp) == "" {
		if err != nil {
			s.logger.Warn("follow-up oracle call failed, using fallback phrasing", "err", err)
		}
		followUp = fallbackFollowUp(missing)
	}
	state.Append(domain.RoleAssistant, strings.TrimSpace(followUp))
	return s.finish(ctx, userID, state)
}

// runHandler dispatches to a registered category handler. Handler output is
// trusted by construction and never confidence-scored, so the scoring fields
// from any previous turn are cleared rather than persisted stale.
func (s *AgentService) runHandler(ctx context.Context, userID string, state *domain.ConversationState, h Handler) (string, error) {
	state.WorkflowStep = "execute_handler"
	state.Confidence = nil
	state.NeedsEscalation = false
	resp, err := h(state.Clone())
	if err != nil {
		return "", newError(ErrorHandlerFailure, "handler_error", err)
	}
	state.Messages = append(state.Messages, resp.Messages...)
	return s.finish(ctx, userID, state)
}

// generateAndFinish runs the default generation path followed by
// confidence scoring and, when needed, escalation replacement.
func (s *AgentService) generateAndFinish(ctx context.Context, userID string, state *domain.ConversationState, message string) (string, error) {
	state.WorkflowStep = "generate_response"

	gc := generationContext{
		personality: s.profile.Personality(),
		toolNames:   s.profile.ToolNames(),
	}
	if s.knowledge != nil {
		snippet, err := s.knowledge.Retrieve(ctx, message, knowledgeMaxResults)
		if err != nil {
			s.logger.Warn("knowledge retrieval failed, generating without it", "err", err)
		} else {
			gc.knowledge = snippet
		}
	}

	reply, err := s.oracle.Complete(ctx, s.model, buildGenerationPrompt(gc, state.Messages))
	if err != nil {
		// The oracle being down is never the caller's problem: log it and
		// answer with the fixed apology, skipping confidence scoring.
		s.logger.Error("generation oracle call failed", "user_id", userID, "err", err)
		state.Confidence = nil
		state.NeedsEscalation = false
		state.Append(domain.RoleAssistant, apologyErrorText)
		return s.finish(ctx, userID, state)
	}
	reply = strings.TrimSpace(reply)
	state.Append(domain.RoleAssistant, reply)

	state.WorkflowStep = "score_confidence"
	score := s.scorer.Score(reply)
	state.Confidence = &score
	state.NeedsEscalation = score < s.threshold

	if state.NeedsEscalation {
		state.WorkflowStep = "escalate"
		resp := s.escalate(state.Clone())
		// Replace, not append: the low-confidence draft must never reach
		// the user or remain in the transcript.
		state.Messages = state.Messages[:len(state.Messages)-1]
		state.Messages = append(state.Messages, resp.Messages...)
		s.logger.Info("low confidence response escalated",
			"user_id", userID, "confidence", score, "threshold", s.threshold)
	}

	return s.finish(ctx, userID, state)
}

// finish persists the state and extracts the turn's reply. Persistence is
// best-effort: a failed write is logged but the computed response is still
// delivered.
func (s *AgentService) finish(ctx context.Context, userID string, state *domain.ConversationState) (string, error) {
	if err := s.store.Put(ctx, userID, *state); err != nil {
		s.logger.Error("state write failed, returning response anyway", "user_id", userID, "err", err)
	}

	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == domain.RoleAssistant {
			if content := strings.TrimSpace(state.Messages[i].Content); content != "" {
				return content, nil
			}
			break
		}
	}
	return apologyGenericText, nil
}

// loadState reads the user's state, trading consistency for availability:
// an unreachable store yields a fresh state rather than a failed turn.
func (s *AgentService) loadState(ctx context.Context, userID string) domain.ConversationState {
	state, ok, err := s.store.Get(ctx, userID)
	if err != nil {
		s.logger.Error("state read failed, starting from empty state", "user_id", userID, "err", err)
		return domain.ConversationState{}
	}
	if !ok {
		return domain.ConversationState{}
	}
	return state
}
