package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

type mockOracle struct {
	replies []string
	err     error
	prompts []string
}

func (m *mockOracle) Complete(_ context.Context, _ string, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return r, nil
}

type mockStore struct {
	mu     sync.Mutex
	states map[string]domain.ConversationState
	getErr error
	putErr error
	puts   int
}

func newMockStore() *mockStore {
	return &mockStore{states: make(map[string]domain.ConversationState)}
}

func (m *mockStore) Get(_ context.Context, userID string) (domain.ConversationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.ConversationState{}, false, m.getErr
	}
	state, ok := m.states[userID]
	if !ok {
		return domain.ConversationState{}, false, nil
	}
	return state.Clone(), true, nil
}

func (m *mockStore) Put(_ context.Context, userID string, state domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.states[userID] = state.Clone()
	return nil
}

func (m *mockStore) state(t *testing.T, userID string) domain.ConversationState {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[userID]
	require.True(t, ok, "no state stored for %s", userID)
	return state
}

type stubProfile struct {
	categories  []string
	reqs        []domain.CategoryRequirement
	personality string
	tools       []string
}

func (p *stubProfile) Categories() []string                       { return p.categories }
func (p *stubProfile) Requirements() []domain.CategoryRequirement { return p.reqs }
func (p *stubProfile) Personality() string                        { return p.personality }
func (p *stubProfile) ToolNames() []string                        { return p.tools }

type stubClassifier struct{ category string }

func (s *stubClassifier) Classify(context.Context, string, []string) string { return s.category }

type stubChecker struct {
	satisfied bool
	missing   []string
}

func (s *stubChecker) Check(context.Context, string, string, []domain.CategoryRequirement, []domain.Message) (bool, []string) {
	return s.satisfied, append([]string(nil), s.missing...)
}

type stubTopics struct{ newTopic bool }

func (s *stubTopics) IsNewTopic(context.Context, string, []string) bool { return s.newTopic }

type stubRetriever struct {
	snippet string
	err     error
}

func (s *stubRetriever) Retrieve(context.Context, string, int) (string, error) {
	return s.snippet, s.err
}

func newTestService(t *testing.T, cfg ServiceConfig) *AgentService {
	t.Helper()
	if cfg.Oracle == nil {
		cfg.Oracle = &mockOracle{replies: []string{"a perfectly long and substantive generated answer for the user's question"}}
	}
	if cfg.Store == nil {
		cfg.Store = newMockStore()
	}
	if cfg.Profile == nil {
		cfg.Profile = &stubProfile{}
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	svc, err := NewAgentService(cfg)
	require.NoError(t, err)
	return svc
}

func TestNewAgentService_ValidatesDependencies(t *testing.T) {
	base := ServiceConfig{
		Oracle:  &mockOracle{},
		Store:   newMockStore(),
		Profile: &stubProfile{},
		Model:   "gpt-4",
	}

	for name, mutate := range map[string]func(*ServiceConfig){
		"nil oracle":  func(c *ServiceConfig) { c.Oracle = nil },
		"nil store":   func(c *ServiceConfig) { c.Store = nil },
		"nil profile": func(c *ServiceConfig) { c.Profile = nil },
		"empty model": func(c *ServiceConfig) { c.Model = " " },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := NewAgentService(cfg)
			require.Error(t, err)
		})
	}
}

func TestChat_RejectsEmptyArguments(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{Store: store})

	for name, args := range map[string][2]string{
		"empty message": {"  ", "u1"},
		"empty user id": {"hello", "\t"},
		"both empty":    {"", ""},
		"whitespace":    {" \n ", " "},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Chat(context.Background(), args[0], args[1])
			var ucErr *Error
			require.ErrorAs(t, err, &ucErr)
			require.Equal(t, ErrorInvalidInput, ucErr.Code)
		})
	}
	require.Zero(t, store.puts, "validation failures must not mutate state")
}

func TestChat_NoCategoriesSkipsClassification(t *testing.T) {
	oracle := &mockOracle{replies: []string{"a long enough answer that very comfortably clears the confidence threshold"}}
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{Oracle: oracle, Store: store})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)
	require.NotEmpty(t, reply)

	state := store.state(t, "u1")
	require.Equal(t, CategoryDefault, state.Category)
	// Only the generation call: no classification, continuity or
	// requirement prompts were issued.
	require.Len(t, oracle.prompts, 1)
	require.Contains(t, oracle.prompts[0], "Conversation history")
}

func TestChat_MissingRequirementsEndsTurnWithFollowUp(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle:     &mockOracle{err: errors.New("oracle down")}, // follow-up falls back to canned phrasing
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}, reqs: []domain.CategoryRequirement{{Category: "Billing", RequiredFields: []string{"account_number"}}}},
		Classifier: &stubClassifier{category: "Billing"},
		Checker:    &stubChecker{satisfied: false, missing: []string{"account_number"}},
		Topics:     &stubTopics{newTopic: true},
	})

	reply, err := svc.Chat(context.Background(), "I have a billing problem", "u1")
	require.NoError(t, err)
	require.Equal(t, "I can help with that! What's your account_number?", reply)

	state := store.state(t, "u1")
	require.Equal(t, []string{"account_number"}, state.MissingRequirements)
	require.Equal(t, 1, state.RequirementAttempts["Billing"])
	require.Len(t, state.Messages, 2)
}

func TestChat_EscalatesAfterRepeatedRequirementFailures(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle:     &mockOracle{err: errors.New("oracle down")},
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}, reqs: []domain.CategoryRequirement{{Category: "Billing", RequiredFields: []string{"account_number"}}}},
		Classifier: &stubClassifier{category: "Billing"},
		Checker:    &stubChecker{satisfied: false, missing: []string{"account_number"}},
		Topics:     &stubTopics{newTopic: false},
	})

	ctx := context.Background()
	// Two clarification attempts are allowed.
	for turn := 1; turn <= 2; turn++ {
		reply, err := svc.Chat(ctx, fmt.Sprintf("still broken %d", turn), "u1")
		require.NoError(t, err)
		require.Contains(t, reply, "account_number")
		require.Equal(t, turn, store.state(t, "u1").RequirementAttempts["Billing"])
	}

	// The third attempt escalates instead of asking again.
	reply, err := svc.Chat(ctx, "still broken 3", "u1")
	require.NoError(t, err)
	require.Equal(t, defaultEscalationText, reply)

	state := store.state(t, "u1")
	require.True(t, state.NeedsEscalation)
	require.Equal(t, 3, state.RequirementAttempts["Billing"])
}

func TestChat_NewTopicResetsAttemptCounters(t *testing.T) {
	store := newMockStore()
	topics := &stubTopics{newTopic: false}
	svc := newTestService(t, ServiceConfig{
		Oracle:     &mockOracle{err: errors.New("oracle down")},
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}, reqs: []domain.CategoryRequirement{{Category: "Billing", RequiredFields: []string{"account_number"}}}},
		Classifier: &stubClassifier{category: "Billing"},
		Checker:    &stubChecker{satisfied: false, missing: []string{"account_number"}},
		Topics:     topics,
	})

	ctx := context.Background()
	_, err := svc.Chat(ctx, "billing issue", "u1")
	require.NoError(t, err)
	_, err = svc.Chat(ctx, "still billing", "u1")
	require.NoError(t, err)
	require.Equal(t, 2, store.state(t, "u1").RequirementAttempts["Billing"])

	// A detected topic switch clears the counters, so the next turn asks
	// again rather than escalating.
	topics.newTopic = true
	reply, err := svc.Chat(ctx, "something unrelated", "u1")
	require.NoError(t, err)
	require.NotEqual(t, defaultEscalationText, reply)
	require.Equal(t, 1, store.state(t, "u1").RequirementAttempts["Billing"])
}

func TestChat_RegisteredHandlerBypassesScoring(t *testing.T) {
	store := newMockStore()
	oracle := &mockOracle{}
	svc := newTestService(t, ServiceConfig{
		Oracle:     oracle,
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}},
		Classifier: &stubClassifier{category: "Billing"},
		Topics:     &stubTopics{newTopic: true},
	})

	// "ok" is far below any length-based threshold; handler output is
	// trusted and must not be escalated.
	require.NoError(t, svc.RegisterHandler("Billing", func(state domain.ConversationState) (domain.HandlerResponse, error) {
		return domain.HandlerResponse{Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "ok"}}}, nil
	}))

	reply, err := svc.Chat(context.Background(), "billing please", "u1")
	require.NoError(t, err)
	require.Equal(t, "ok", reply)

	state := store.state(t, "u1")
	require.False(t, state.NeedsEscalation)
	require.Nil(t, state.Confidence)
	require.Empty(t, oracle.prompts, "handler path must not call the oracle")
}

func TestChat_HandlerTurnClearsStaleScoringFields(t *testing.T) {
	store := newMockStore()
	// A previous generation turn left a low score and a pending escalation.
	prior := 0.12
	store.states["u1"] = domain.ConversationState{
		Messages:        []domain.Message{{Role: domain.RoleUser, Content: "earlier question"}},
		Confidence:      &prior,
		NeedsEscalation: true,
	}

	svc := newTestService(t, ServiceConfig{
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}},
		Classifier: &stubClassifier{category: "Billing"},
		Topics:     &stubTopics{newTopic: false},
	})
	require.NoError(t, svc.RegisterHandler("Billing", func(domain.ConversationState) (domain.HandlerResponse, error) {
		return domain.HandlerResponse{Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "ticket created"}}}, nil
	}))

	reply, err := svc.Chat(context.Background(), "billing please", "u1")
	require.NoError(t, err)
	require.Equal(t, "ticket created", reply)

	state := store.state(t, "u1")
	require.Nil(t, state.Confidence, "handler turns are not scored; stale score must not persist")
	require.False(t, state.NeedsEscalation)
}

func TestChat_HandlerErrorPropagates(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		Profile:    &stubProfile{categories: []string{"Billing"}},
		Classifier: &stubClassifier{category: "Billing"},
		Topics:     &stubTopics{newTopic: true},
	})

	boom := errors.New("boom")
	require.NoError(t, svc.RegisterHandler("Billing", func(domain.ConversationState) (domain.HandlerResponse, error) {
		return domain.HandlerResponse{}, boom
	}))

	_, err := svc.Chat(context.Background(), "billing please", "u1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorHandlerFailure, ucErr.Code)
	require.ErrorIs(t, err, boom)
}

func TestChat_LowConfidenceDraftNeverLeaks(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{replies: []string{"meh"}},
		Store:  store,
	})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)
	require.Equal(t, defaultEscalationText, reply)

	state := store.state(t, "u1")
	require.True(t, state.NeedsEscalation)
	require.NotNil(t, state.Confidence)
	for _, m := range state.Messages {
		require.NotEqual(t, "meh", m.Content, "low-confidence draft must be replaced, not kept")
	}
}

func TestChat_CustomEscalationHandler(t *testing.T) {
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{replies: []string{"meh"}},
		Escalation: func(domain.ConversationState) domain.HandlerResponse {
			return domain.HandlerResponse{Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "a human will call you"}}}
		},
	})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)
	require.Equal(t, "a human will call you", reply)
}

func TestChat_GenerationOracleFailureReturnsApology(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{err: errors.New("connection refused")},
		Store:  store,
	})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err, "oracle failures never surface from Chat")
	require.Equal(t, apologyErrorText, reply)

	state := store.state(t, "u1")
	require.False(t, state.NeedsEscalation)
	require.Nil(t, state.Confidence)
}

func TestChat_StoreReadFailureFallsBackToFreshState(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("store unreachable")
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{replies: []string{"an answer that is long enough to clear the default confidence threshold easily"}},
		Store:  store,
	})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)
	require.NotEmpty(t, reply)
}

func TestChat_StoreWriteFailureStillReturnsResponse(t *testing.T) {
	store := newMockStore()
	store.putErr = errors.New("store unreachable")
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{replies: []string{"an answer that is long enough to clear the default confidence threshold easily"}},
		Store:  store,
	})

	reply, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)
	require.Contains(t, reply, "long enough to clear")
}

func TestChat_KnowledgeRetrievalIsBestEffort(t *testing.T) {
	oracle := &mockOracle{replies: []string{"an answer that is long enough to clear the default confidence threshold easily"}}
	svc := newTestService(t, ServiceConfig{
		Oracle:    oracle,
		Knowledge: &stubRetriever{err: errors.New("retriever offline")},
	})

	_, err := svc.Chat(context.Background(), "hello", "u1")
	require.NoError(t, err)

	svc = newTestService(t, ServiceConfig{
		Oracle:    &mockOracle{replies: []string{"an answer that is long enough to clear the default confidence threshold easily"}},
		Knowledge: &stubRetriever{snippet: "refund policy: 30 days"},
	})
	oracle2 := svc.oracle.(*mockOracle)
	_, err = svc.Chat(context.Background(), "what is the refund policy", "u1")
	require.NoError(t, err)
	require.Contains(t, oracle2.prompts[0], "refund policy: 30 days")
}

func TestChat_PerUserIsolation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle:     &mockOracle{err: errors.New("oracle down")},
		Store:      store,
		Profile:    &stubProfile{categories: []string{"Billing"}, reqs: []domain.CategoryRequirement{{Category: "Billing", RequiredFields: []string{"account_number"}}}},
		Classifier: &stubClassifier{category: "Billing"},
		Checker:    &stubChecker{satisfied: false, missing: []string{"account_number"}},
		Topics:     &stubTopics{newTopic: false},
	})

	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		_, err := svc.Chat(ctx, "billing issue", user)
		require.NoError(t, err)
	}
	_, err := svc.Chat(ctx, "still billing", "alice")
	require.NoError(t, err)

	require.Equal(t, 2, store.state(t, "alice").RequirementAttempts["Billing"])
	require.Equal(t, 1, store.state(t, "bob").RequirementAttempts["Billing"])
	require.Len(t, store.state(t, "bob").Messages, 2)
}

// TestChat_BillingScenario drives the oracle-backed components end to end:
// turn 1 classifies Billing and asks for the account number, turn 2
// satisfies requirements but generates a short reply that gets escalated.
func TestChat_BillingScenario(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"Billing",                                // turn 1: classify
		"account_number",                         // turn 1: requirements check
		"Could you provide your account number?", // turn 1: follow-up
		"CONTINUE",                               // turn 2: continuity
		"Billing",                                // turn 2: classify
		"NONE",                                   // turn 2: requirements check
		"ok",                                     // turn 2: generation (short, escalates)
	}}
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle: oracle,
		Store:  store,
		Profile: &stubProfile{
			categories: []string{"Billing"},
			reqs:       []domain.CategoryRequirement{{Category: "Billing", RequiredFields: []string{"account_number"}}},
		},
		ConfidenceThreshold: 0.7,
	})

	ctx := context.Background()
	reply, err := svc.Chat(ctx, "I have a billing problem", "u1")
	require.NoError(t, err)
	require.Equal(t, "Could you provide your account number?", reply)
	require.Equal(t, 1, store.state(t, "u1").RequirementAttempts["Billing"])

	reply, err = svc.Chat(ctx, "12345", "u1")
	require.NoError(t, err)
	require.Equal(t, defaultEscalationText, reply)

	state := store.state(t, "u1")
	require.Empty(t, state.MissingRequirements)
	require.True(t, state.NeedsEscalation)
	for _, m := range state.Messages {
		require.NotEqual(t, "ok", m.Content)
	}
}

func TestChat_TranscriptOrderIsPreserved(t *testing.T) {
	store := newMockStore()
	svc := newTestService(t, ServiceConfig{
		Oracle: &mockOracle{replies: []string{"an answer that is long enough to clear the default confidence threshold easily"}},
		Store:  store,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Chat(ctx, fmt.Sprintf("message %d", i), "u1")
		require.NoError(t, err)
	}

	state := store.state(t, "u1")
	require.Len(t, state.Messages, 6)
	for i, m := range state.Messages {
		if i%2 == 0 {
			require.Equal(t, domain.RoleUser, m.Role)
			require.Equal(t, fmt.Sprintf("message %d", i/2), m.Content)
		} else {
			require.Equal(t, domain.RoleAssistant, m.Role)
		}
	}
}

func TestLengthScorer(t *testing.T) {
	s := LengthScorer{}
	require.InDelta(t, 0.03, s.Score("abc"), 1e-9)
	require.InDelta(t, 1.0, s.Score(strings.Repeat("x", 100)), 1e-9)
}
