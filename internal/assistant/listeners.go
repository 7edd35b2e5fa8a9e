package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"slackstream/internal/convo"
	"slackstream/internal/domain"
)

const (
	greeting       = ":wave: Hi, how can I help you today?"
	thinkingStatus = "is thinking..."

	apology = "Sorry, there was an error communicating with AWS Bedrock. The good news is that your Slack App works! If you want to get Bedrock working, check that you've " +
		"<https://docs.aws.amazon.com/bedrock/latest/userguide/model-access-modify.html|enabled model access> " +
		"and are using the correct <https://docs.aws.amazon.com/bedrock/latest/userguide/cross-region-inference.html#cross-region-inference-use|inference profile>. " +
		"If both of these are true, there is some other error. Check your lambda logs for more info."
)

var errNoReferredChannel = errors.New("thread context has no referred channel")

// threadStarted greets the user and offers prompts. Failures are reported in
// the thread and never retried.
func (a *App) threadStarted(ctx context.Context, logger *slog.Logger, t *assistantThread) {
	err := a.greet(ctx, t)
	if err == nil {
		return
	}
	logger.Error("failed to handle an assistant_thread_started event", "err", err)
	if sayErr := a.platform.Say(ctx, t.ChannelID, t.ThreadTS, fmt.Sprintf(":warning: Something went wrong! (%v)", err)); sayErr != nil {
		logger.Error("cannot report failure", "err", sayErr)
	}
}

func (a *App) greet(ctx context.Context, t *assistantThread) error {
	if err := a.platform.Greet(ctx, t.ChannelID, t.ThreadTS, greeting, t.Context); err != nil {
		return err
	}
	prompts := convo.SuggestedPrompts(t.Context)
	a.logger.Debug("thread context retrieved", "has_channel", t.Context.ChannelID != "")
	return a.platform.SetSuggestedPrompts(ctx, t.ChannelID, t.ThreadTS, "", prompts)
}

func (a *App) contextChanged(ctx context.Context, t *assistantThread) error {
	return a.platform.SaveThreadContext(ctx, t.ChannelID, t.ThreadTS, t.Context)
}

func (a *App) userMessage(ctx context.Context, logger *slog.Logger, teamID string, ev innerEvent) error {
	target := domain.StreamTarget{
		ChannelID: ev.Channel,
		ThreadTS:  ev.ThreadTS,
		TeamID:    teamID,
		UserID:    ev.User,
	}
	preview := ev.Text
	if r := []rune(preview); len(r) > 50 {
		preview = string(r[:50])
	}
	logger = logger.With("user_id", ev.User, "channel_id", ev.Channel, "thread_ts", ev.ThreadTS)
	logger.Info("processing message", "message_preview", preview)

	if ev.Text == convo.SummarizeChannelPrompt {
		return a.summarizeChannel(ctx, target)
	}
	if ev.Text == "" {
		logger.Info("no text in message, skipping model call")
		return nil
	}

	if err := a.replyInThread(ctx, target); err != nil {
		logger.Error("error processing event", "err", err)
		if sayErr := a.platform.Say(ctx, ev.Channel, ev.ThreadTS, apology); sayErr != nil {
			return fmt.Errorf("send apology: %w", sayErr)
		}
	}
	return nil
}

// summarizeChannel errors propagate so the delivery is retried.
func (a *App) summarizeChannel(ctx context.Context, target domain.StreamTarget) error {
	tc, _, err := a.platform.ThreadContext(ctx, target.ChannelID, target.ThreadTS)
	if err != nil {
		return fmt.Errorf("thread context: %w", err)
	}
	if tc.ChannelID == "" {
		return errNoReferredChannel
	}
	turns, err := a.history.ChannelSummary(ctx, tc.ChannelID)
	if err != nil {
		return err
	}
	if err := a.platform.SetStatus(ctx, target.ChannelID, target.ThreadTS, thinkingStatus); err != nil {
		return err
	}
	_, err = a.responder.Stream(ctx, turns, "", target)
	return err
}

func (a *App) replyInThread(ctx context.Context, target domain.StreamTarget) error {
	turns, err := a.history.Thread(ctx, target.ChannelID, target.ThreadTS)
	if err != nil {
		return err
	}
	a.logger.Debug("thread messages retrieved", "message_count", len(turns))
	if err := a.platform.SetStatus(ctx, target.ChannelID, target.ThreadTS, thinkingStatus); err != nil {
		return err
	}
	_, err = a.responder.Stream(ctx, turns, "", target)
	return err
}
