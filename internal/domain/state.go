package domain

// CategoryRequirement names the fields a category must have gathered before
// its handler (or the generation path) may run. Declared by the host,
// read-only at runtime. A category without an entry has no requirements.
type CategoryRequirement struct {
	Category       string   `yaml:"category" json:"category"`
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
}

// ConversationState is the per-user workflow state. It is mutated only by
// the agent service during a turn and persisted whole between turns.
type ConversationState struct {
	// Messages is the append-only transcript. The only permitted rewrite is
	// the escalation path replacing a just-generated low-confidence draft.
	Messages []Message `json:"messages"`

	// Category is the classification result of the current turn.
	Category string `json:"category,omitempty"`

	// MissingRequirements lists the fields still outstanding for Category.
	MissingRequirements []string `json:"missing_requirements,omitempty"`

	// RequirementAttempts counts clarification requests per category. It
	// survives turns within one topic and resets when a new topic starts.
	RequirementAttempts map[string]int `json:"requirement_attempts,omitempty"`

	// Confidence is the last response-quality score, if one was computed.
	Confidence *float64 `json:"confidence,omitempty"`

	// NeedsEscalation is set by scoring and consumed by routing.
	NeedsEscalation bool `json:"needs_escalation,omitempty"`

	// WorkflowStep records the last executed step, for observability only.
	WorkflowStep string `json:"workflow_step,omitempty"`
}

// Append adds a message to the transcript.
func (s *ConversationState) Append(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// LastMessage returns the newest message, or false if the transcript is empty.
func (s *ConversationState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// RecentUserContents returns the contents of up to n user messages
// immediately preceding the last message, oldest first.
func (s *ConversationState) RecentUserContents(n int) []string {
	if len(s.Messages) < 2 {
		return nil
	}
	prior := s.Messages[:len(s.Messages)-1]
	start := len(prior) - n
	if start < 0 {
		start = 0
	}
	var out []string
	for _, m := range prior[start:] {
		if m.Role == RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// Clone returns a deep copy so stores can hand out states without sharing
// mutable slices or maps with the caller.
func (s *ConversationState) Clone() ConversationState {
	out := ConversationState{
		Category:        s.Category,
		NeedsEscalation: s.NeedsEscalation,
		WorkflowStep:    s.WorkflowStep,
	}
	if s.Messages != nil {
		out.Messages = append([]Message(nil), s.Messages...)
	}
	if s.MissingRequirements != nil {
		out.MissingRequirements = append([]string(nil), s.MissingRequirements...)
	}
	if s.RequirementAttempts != nil {
		out.RequirementAttempts = make(map[string]int, len(s.RequirementAttempts))
		for k, v := range s.RequirementAttempts {
			out.RequirementAttempts[k] = v
		}
	}
	if s.Confidence != nil {
		c := *s.Confidence
		out.Confidence = &c
	}
	return out
}

// HandlerResponse is what a registered category handler returns: the
// messages to append to the transcript. Ephemeral, never persisted as such.
type HandlerResponse struct {
	Messages []Message
}
