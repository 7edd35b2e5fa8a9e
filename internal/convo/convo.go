// Package convo rebuilds the dialogue a model reply is generated from.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"slackstream/internal/domain"
)

// SummarizeChannelPrompt is the exact text that switches a thread message to
// the channel summary path.
const SummarizeChannelPrompt = "Can you generate a brief summary of the referred channel?"

const (
	DefaultThreadLimit  = 10
	DefaultChannelLimit = 50
)

// Conversations reads platform history.
type Conversations interface {
	Replies(ctx context.Context, channelID, threadTS string, limit int) ([]slack.Message, error)
	History(ctx context.Context, channelID string, limit int) ([]slack.Message, error)
	Join(ctx context.Context, channelID string) error
}

type Config struct {
	Conversations Conversations
	ThreadLimit   int
	ChannelLimit  int
	Logger        *slog.Logger
}

type Builder struct {
	conv         Conversations
	threadLimit  int
	channelLimit int
	logger       *slog.Logger
}

func NewBuilder(cfg Config) *Builder {
	if cfg.ThreadLimit <= 0 {
		cfg.ThreadLimit = DefaultThreadLimit
	}
	if cfg.ChannelLimit <= 0 {
		cfg.ChannelLimit = DefaultChannelLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		conv:         cfg.Conversations,
		threadLimit:  cfg.ThreadLimit,
		channelLimit: cfg.ChannelLimit,
		logger:       cfg.Logger.With("component", "convo"),
	}
}

// Thread returns the thread's messages as turns, oldest first. Messages
// posted by a bot are assistant turns; text is kept verbatim.
func (b *Builder) Thread(ctx context.Context, channelID, threadTS string) ([]domain.Turn, error) {
	msgs, err := b.conv.Replies(ctx, channelID, threadTS, b.threadLimit)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := domain.RoleUser
		if m.BotID != "" {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.Turn{Role: role, Content: m.Text})
	}
	b.logger.Debug("thread messages retrieved", "message_count", len(turns))
	return turns, nil
}

// ChannelSummary returns a single user turn asking for a summary of the
// referred channel's recent messages. A bot that is not a member joins once
// and retries once.
func (b *Builder) ChannelSummary(ctx context.Context, channelID string) ([]domain.Turn, error) {
	msgs, err := b.conv.History(ctx, channelID, b.channelLimit)
	if errors.Is(err, domain.ErrNotInChannel) {
		b.logger.Info("not in channel, joining", "channel_id", channelID)
		if jerr := b.conv.Join(ctx, channelID); jerr != nil {
			return nil, jerr
		}
		msgs, err = b.conv.History(ctx, channelID, b.channelLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("channel summary: %w", err)
	}
	return []domain.Turn{{Role: domain.RoleUser, Content: SummaryPrompt(channelID, msgs)}}, nil
}

// SummaryPrompt renders history (newest first, as the platform returns it)
// into a summary request. Messages without an author are skipped.
func SummaryPrompt(channelID string, history []slack.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Can you generate a brief summary of these messages in a Slack channel <#%s>?\n\n", channelID)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.User == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n<@%s> says: %s\n", m.User, m.Text)
	}
	return sb.String()
}

// SuggestedPrompts returns the prompts offered when a thread starts.
func SuggestedPrompts(tc domain.ThreadContext) []domain.SuggestedPrompt {
	if tc.ChannelID == "" {
		return []domain.SuggestedPrompt{}
	}
	return []domain.SuggestedPrompt{{
		Title:   "Summarize the referred channel",
		Message: SummarizeChannelPrompt,
	}}
}
