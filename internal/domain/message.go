package domain

// Role is the authorship side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a reconstructed dialogue, oldest first.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SuggestedPrompt is offered when an assistant thread starts.
type SuggestedPrompt struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ThreadContext is what the platform tells us about where the assistant
// thread was opened from.
type ThreadContext struct {
	ChannelID    string `json:"channel_id,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	EnterpriseID string `json:"enterprise_id,omitempty"`
}
