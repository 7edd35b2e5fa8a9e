package convo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/slack-go/slack"

	"slackstream/internal/domain"
)

type fakeConversations struct {
	replies      []slack.Message
	replyLimit   int
	history      []slack.Message
	historyErrs  []error // consumed one per History call
	historyCalls int
	joins        []string
	joinErr      error
}

func (f *fakeConversations) Replies(_ context.Context, _, _ string, limit int) ([]slack.Message, error) {
	f.replyLimit = limit
	return f.replies, nil
}

func (f *fakeConversations) History(_ context.Context, _ string, _ int) ([]slack.Message, error) {
	f.historyCalls++
	if len(f.historyErrs) > 0 {
		err := f.historyErrs[0]
		f.historyErrs = f.historyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.history, nil
}

func (f *fakeConversations) Join(_ context.Context, channelID string) error {
	f.joins = append(f.joins, channelID)
	return f.joinErr
}

func msg(user, botID, text string) slack.Message {
	return slack.Message{Msg: slack.Msg{User: user, BotID: botID, Text: text}}
}

func newBuilder(f *fakeConversations) *Builder {
	return NewBuilder(Config{Conversations: f, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func notInChannel() error {
	return fmt.Errorf("conversations.history: %w", domain.ErrNotInChannel)
}

func TestThread_RolesAndOrder(t *testing.T) {
	f := &fakeConversations{replies: []slack.Message{
		msg("U1", "", "hi"),
		msg("UBOT", "B1", "hello"),
		msg("U1", "", "summarize <#C1>"),
	}}
	turns, err := newBuilder(f).Thread(context.Background(), "D1", "1.0")
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	want := []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
		{Role: domain.RoleUser, Content: "summarize <#C1>"},
	}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %+v", len(want), turns)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d: expected %+v, got %+v", i, want[i], turns[i])
		}
	}
	if f.replyLimit != 10 {
		t.Fatalf("expected limit 10, got %d", f.replyLimit)
	}
}

func TestChannelSummary_PromptFormat(t *testing.T) {
	f := &fakeConversations{history: []slack.Message{
		msg("U2", "", "b"),
		msg("", "B1", "bot noise"),
		msg("U1", "", "a"),
	}}
	turns, err := newBuilder(f).ChannelSummary(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ChannelSummary: %v", err)
	}
	want := "Can you generate a brief summary of these messages in a Slack channel <#C1>?\n\n" +
		"\n<@U1> says: a\n" +
		"\n<@U2> says: b\n"
	if len(turns) != 1 || turns[0].Role != domain.RoleUser || turns[0].Content != want {
		t.Fatalf("unexpected turns %+v", turns)
	}
}

func TestChannelSummary_EmptyHistory(t *testing.T) {
	turns, err := newBuilder(&fakeConversations{}).ChannelSummary(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ChannelSummary: %v", err)
	}
	if turns[0].Content != "Can you generate a brief summary of these messages in a Slack channel <#C1>?\n\n" {
		t.Fatalf("unexpected prompt %q", turns[0].Content)
	}
}

func TestChannelSummary_JoinsOnceWhenNotInChannel(t *testing.T) {
	f := &fakeConversations{
		historyErrs: []error{notInChannel()},
		history:     []slack.Message{msg("U1", "", "a")},
	}
	if _, err := newBuilder(f).ChannelSummary(context.Background(), "C1"); err != nil {
		t.Fatalf("ChannelSummary: %v", err)
	}
	if len(f.joins) != 1 || f.joins[0] != "C1" {
		t.Fatalf("expected one join of C1, got %v", f.joins)
	}
	if f.historyCalls != 2 {
		t.Fatalf("expected 2 history calls, got %d", f.historyCalls)
	}
}

func TestChannelSummary_RetryFailureIsReturned(t *testing.T) {
	f := &fakeConversations{historyErrs: []error{notInChannel(), notInChannel()}}
	_, err := newBuilder(f).ChannelSummary(context.Background(), "C1")
	if !errors.Is(err, domain.ErrNotInChannel) {
		t.Fatalf("expected not_in_channel after retry, got %v", err)
	}
	if len(f.joins) != 1 || f.historyCalls != 2 {
		t.Fatalf("expected exactly one join and one retry, got joins=%v calls=%d", f.joins, f.historyCalls)
	}
}

func TestChannelSummary_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("ratelimited")
	f := &fakeConversations{historyErrs: []error{boom}}
	_, err := newBuilder(f).ChannelSummary(context.Background(), "C1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected ratelimited, got %v", err)
	}
	if len(f.joins) != 0 {
		t.Fatal("should not join on other errors")
	}
}

func TestChannelSummary_JoinFailure(t *testing.T) {
	f := &fakeConversations{historyErrs: []error{notInChannel()}, joinErr: errors.New("is_archived")}
	if _, err := newBuilder(f).ChannelSummary(context.Background(), "C1"); err == nil {
		t.Fatal("expected join error")
	}
	if f.historyCalls != 1 {
		t.Fatalf("should not refetch after failed join, got %d calls", f.historyCalls)
	}
}

func TestSuggestedPrompts(t *testing.T) {
	if got := SuggestedPrompts(domain.ThreadContext{}); len(got) != 0 {
		t.Fatalf("expected no prompts, got %+v", got)
	}
	got := SuggestedPrompts(domain.ThreadContext{ChannelID: "C1"})
	if len(got) != 1 || got[0].Message != SummarizeChannelPrompt || got[0].Title != "Summarize the referred channel" {
		t.Fatalf("unexpected prompts %+v", got)
	}
}
