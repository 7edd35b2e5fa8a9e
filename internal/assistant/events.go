package assistant

import (
	"encoding/json"

	"slackstream/internal/domain"
)

const (
	eventThreadStarted  = "assistant_thread_started"
	eventContextChanged = "assistant_thread_context_changed"
	eventMessage        = "message"

	channelTypeIM = "im"
)

// callback is the outer event_callback payload.
type callback struct {
	Type    string          `json:"type"`
	TeamID  string          `json:"team_id"`
	EventID string          `json:"event_id"`
	Event   json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type            string           `json:"type"`
	Subtype         string           `json:"subtype,omitempty"`
	Channel         string           `json:"channel,omitempty"`
	ChannelType     string           `json:"channel_type,omitempty"`
	User            string           `json:"user,omitempty"`
	BotID           string           `json:"bot_id,omitempty"`
	Text            string           `json:"text,omitempty"`
	TS              string           `json:"ts,omitempty"`
	ThreadTS        string           `json:"thread_ts,omitempty"`
	Team            string           `json:"team,omitempty"`
	AssistantThread *assistantThread `json:"assistant_thread,omitempty"`
}

type assistantThread struct {
	UserID    string               `json:"user_id"`
	ChannelID string               `json:"channel_id"`
	ThreadTS  string               `json:"thread_ts"`
	Context   domain.ThreadContext `json:"context"`
}

// isUserMessage reports whether ev is a human reply inside an assistant
// (direct message) thread.
func (ev innerEvent) isUserMessage() bool {
	return ev.Type == eventMessage &&
		ev.ChannelType == channelTypeIM &&
		ev.ThreadTS != "" &&
		(ev.Subtype == "" || ev.Subtype == "file_share") &&
		ev.BotID == ""
}
