package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"slackstream/internal/domain"
)

const (
	slackMaxMsgLen = 4000

	// ThreadContextEventType tags the metadata that carries an assistant
	// thread's context on the bot's first message.
	ThreadContextEventType = "assistant_thread_context"

	defaultUpdateInterval = 700 * time.Millisecond
)

// SlackAPI is the part of *slack.Client the adapter uses.
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	SetAssistantThreadsStatusContext(ctx context.Context, params slack.AssistantThreadsSetStatusParameters) error
	SetAssistantThreadsSuggestedPromptsContext(ctx context.Context, params slack.AssistantThreadsSetSuggestedPromptsParameters) error
}

// Slack is the platform adapter: conversation reads, assistant thread
// controls and live reply streams.
type Slack struct {
	api            SlackAPI
	updateInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// SlackConfig configures the Slack adapter. API wins over BotToken.
type SlackConfig struct {
	BotToken       string
	APIURL         string
	API            SlackAPI
	UpdateInterval time.Duration
	Logger         *slog.Logger
}

// NewSlack creates a new Slack adapter.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	api := cfg.API
	if api == nil {
		var opts []slack.Option
		if cfg.APIURL != "" {
			opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
		}
		api = slack.New(cfg.BotToken, opts...)
	}
	return &Slack{
		api:            api,
		updateInterval: cfg.UpdateInterval,
		logger:         cfg.Logger.With("channel", "slack"),
		now:            time.Now,
	}
}

// AuthTest returns the bot user and team the token belongs to.
func (s *Slack) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	return resp, nil
}

// Replies returns up to limit messages of a thread, parent first.
func (s *Slack) Replies(ctx context.Context, channelID, threadTS string, limit int) ([]slack.Message, error) {
	msgs, _, _, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Oldest:    threadTS,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.replies %s: %w", channelID, classifySlackError(err))
	}
	return msgs, nil
}

// History returns up to limit recent channel messages, newest first.
// A bot that is not a member gets an error wrapping domain.ErrNotInChannel.
func (s *Slack) History(ctx context.Context, channelID string, limit int) ([]slack.Message, error) {
	resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.history %s: %w", channelID, classifySlackError(err))
	}
	return resp.Messages, nil
}

func (s *Slack) Join(ctx context.Context, channelID string) error {
	if _, _, _, err := s.api.JoinConversationContext(ctx, channelID); err != nil {
		return fmt.Errorf("conversations.join %s: %w", channelID, classifySlackError(err))
	}
	s.logger.Info("joined channel", "channel_id", channelID)
	return nil
}

func classifySlackError(err error) error {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) && se.Err == domain.ErrNotInChannel.Error() {
		return fmt.Errorf("%w: %w", domain.ErrNotInChannel, err)
	}
	return err
}

// Say posts text into a thread, splitting long messages.
func (s *Slack) Say(ctx context.Context, channelID, threadTS, text string) error {
	for _, chunk := range splitSlackMessage(text, slackMaxMsgLen) {
		if _, _, err := s.api.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionTS(threadTS),
		); err != nil {
			return fmt.Errorf("chat.postMessage %s: %w", channelID, err)
		}
	}
	return nil
}

// Greet posts the first bot message of an assistant thread and stores the
// thread context on it as message metadata.
func (s *Slack) Greet(ctx context.Context, channelID, threadTS, text string, tc domain.ThreadContext) error {
	_, _, err := s.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
		slack.MsgOptionMetadata(threadContextMetadata(tc)),
	)
	if err != nil {
		return fmt.Errorf("chat.postMessage %s: %w", channelID, err)
	}
	return nil
}

// ThreadContext reads the context stored by Greet or SaveThreadContext.
func (s *Slack) ThreadContext(ctx context.Context, channelID, threadTS string) (domain.ThreadContext, bool, error) {
	msg, err := s.contextMessage(ctx, channelID, threadTS)
	if err != nil || msg == nil {
		return domain.ThreadContext{}, false, err
	}
	if msg.Metadata.EventType != ThreadContextEventType {
		return domain.ThreadContext{}, false, nil
	}
	return threadContextFromMetadata(msg.Metadata), true, nil
}

// SaveThreadContext replaces the stored context of a thread. Threads without
// a bot message yet have nowhere to keep it and are left alone.
func (s *Slack) SaveThreadContext(ctx context.Context, channelID, threadTS string, tc domain.ThreadContext) error {
	msg, err := s.contextMessage(ctx, channelID, threadTS)
	if err != nil {
		return err
	}
	if msg == nil {
		s.logger.Warn("no bot message to store thread context on", "channel_id", channelID, "thread_ts", threadTS)
		return nil
	}
	_, _, _, err = s.api.UpdateMessageContext(ctx, channelID, msg.Timestamp,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionMetadata(threadContextMetadata(tc)),
	)
	if err != nil {
		return fmt.Errorf("chat.update %s: %w", channelID, err)
	}
	return nil
}

// contextMessage finds the first bot message of a thread, preferring one
// that already carries thread context metadata.
func (s *Slack) contextMessage(ctx context.Context, channelID, threadTS string) (*slack.Message, error) {
	msgs, _, _, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID:          channelID,
		Timestamp:          threadTS,
		Oldest:             threadTS,
		IncludeAllMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.replies %s: %w", channelID, err)
	}
	var firstBot *slack.Message
	for i := range msgs {
		if msgs[i].Metadata.EventType == ThreadContextEventType {
			return &msgs[i], nil
		}
		if firstBot == nil && msgs[i].BotID != "" {
			firstBot = &msgs[i]
		}
	}
	return firstBot, nil
}

func threadContextMetadata(tc domain.ThreadContext) slack.SlackMetadata {
	payload := map[string]interface{}{}
	if tc.ChannelID != "" {
		payload["channel_id"] = tc.ChannelID
	}
	if tc.TeamID != "" {
		payload["team_id"] = tc.TeamID
	}
	if tc.EnterpriseID != "" {
		payload["enterprise_id"] = tc.EnterpriseID
	}
	return slack.SlackMetadata{EventType: ThreadContextEventType, EventPayload: payload}
}

func threadContextFromMetadata(md slack.SlackMetadata) domain.ThreadContext {
	str := func(key string) string {
		v, _ := md.EventPayload[key].(string)
		return v
	}
	return domain.ThreadContext{
		ChannelID:    str("channel_id"),
		TeamID:       str("team_id"),
		EnterpriseID: str("enterprise_id"),
	}
}

// SetStatus shows a transient status line under the assistant thread.
func (s *Slack) SetStatus(ctx context.Context, channelID, threadTS, status string) error {
	err := s.api.SetAssistantThreadsStatusContext(ctx, slack.AssistantThreadsSetStatusParameters{
		ChannelID: channelID,
		ThreadTS:  threadTS,
		Status:    status,
	})
	if err != nil {
		return fmt.Errorf("assistant.threads.setStatus: %w", err)
	}
	return nil
}

// SetSuggestedPrompts offers clickable prompts in an assistant thread.
func (s *Slack) SetSuggestedPrompts(ctx context.Context, channelID, threadTS, title string, prompts []domain.SuggestedPrompt) error {
	params := slack.AssistantThreadsSetSuggestedPromptsParameters{
		Title:     title,
		ChannelID: channelID,
		ThreadTS:  threadTS,
	}
	for _, p := range prompts {
		params.Prompts = append(params.Prompts, slack.AssistantThreadsPrompt{Title: p.Title, Message: p.Message})
	}
	if err := s.api.SetAssistantThreadsSuggestedPromptsContext(ctx, params); err != nil {
		return fmt.Errorf("assistant.threads.setSuggestedPrompts: %w", err)
	}
	return nil
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
