package domain

// Message roles. The conversation transcript only ever carries these three.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversation turn. Messages are immutable once
// appended; the ordered transcript is the externally meaningful artifact
// and must survive a serialize/deserialize round trip unchanged.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
