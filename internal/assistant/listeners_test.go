package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackstream/internal/domain"
)

func TestUserMessage_ThreadReply(t *testing.T) {
	f := newFixture("")
	f.history.thread = []domain.Turn{
		{Role: domain.RoleAssistant, Content: ":wave: Hi, how can I help you today?"},
		{Role: domain.RoleUser, Content: "hello"},
	}

	_, err := f.app.Process(context.Background(), envelope(callbackBody("Ev1", userMessage("hello")), nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"status"}, f.platform.calls)
	assert.Equal(t, []string{"is thinking..."}, f.platform.statuses)
	require.Len(t, f.responder.targets, 1)
	assert.Equal(t, domain.StreamTarget{
		ChannelID: "D1",
		ThreadTS:  "1700000000.000100",
		TeamID:    "T1",
		UserID:    "U1",
	}, f.responder.targets[0])
	assert.Equal(t, f.history.thread, f.responder.turns[0])
}

func TestUserMessage_ThreadFailureApologizes(t *testing.T) {
	f := newFixture("")
	f.history.thread = []domain.Turn{{Role: domain.RoleUser, Content: "hello"}}
	f.responder.err = errors.New("AccessDeniedException")

	resp, err := f.app.Process(context.Background(), envelope(callbackBody("Ev1", userMessage("hello")), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, f.platform.said, 1)
	assert.Equal(t, apology, f.platform.said[0])

	seen, _ := f.ledger.Seen(context.Background(), "Ev1")
	assert.True(t, seen, "apologized events are complete")
}

func TestUserMessage_HistoryFailureApologizes(t *testing.T) {
	f := newFixture("")
	f.history.threadErr = errors.New("ratelimited")

	_, err := f.app.Process(context.Background(), envelope(callbackBody("Ev1", userMessage("hello")), nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"say"}, f.platform.calls)
	assert.Empty(t, f.responder.turns)
}

func TestUserMessage_EmptyTextSkipped(t *testing.T) {
	f := newFixture("")
	_, err := f.app.Process(context.Background(), envelope(callbackBody("Ev1", userMessage("")), nil))
	require.NoError(t, err)
	assert.Empty(t, f.platform.calls)
	assert.Empty(t, f.responder.turns)
}

func TestUserMessage_ChannelSummary(t *testing.T) {
	f := newFixture("")
	f.platform.tc = domain.ThreadContext{ChannelID: "C5"}
	f.history.summary = []domain.Turn{{Role: domain.RoleUser, Content: "summarize"}}

	_, err := f.app.Process(context.Background(),
		envelope(callbackBody("Ev1", userMessage("Can you generate a brief summary of the referred channel?")), nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"C5"}, f.history.summarized)
	assert.Equal(t, []string{"thread_context", "status"}, f.platform.calls)
	require.Len(t, f.responder.turns, 1)
	assert.Equal(t, "summarize", f.responder.turns[0][0].Content)
	assert.Empty(t, f.platform.said, "summary failures are not apologized for")
}

func TestUserMessage_ChannelSummaryWithoutContext(t *testing.T) {
	f := newFixture("")
	_, err := f.app.Process(context.Background(),
		envelope(callbackBody("Ev1", userMessage("Can you generate a brief summary of the referred channel?")), nil))
	assert.ErrorIs(t, err, errNoReferredChannel)
}

func TestUserMessage_Ignored(t *testing.T) {
	cases := map[string]func(map[string]any){
		"bot message":    func(ev map[string]any) { ev["bot_id"] = "B1" },
		"not a thread":   func(ev map[string]any) { delete(ev, "thread_ts") },
		"public channel": func(ev map[string]any) { ev["channel_type"] = "channel" },
		"edited":         func(ev map[string]any) { ev["subtype"] = "message_changed" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture("")
			ev := userMessage("hello")
			mutate(ev)
			resp, err := f.app.Process(context.Background(), envelope(callbackBody("Ev1", ev), nil))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
			assert.Empty(t, f.platform.calls)
			assert.Empty(t, f.responder.turns)
		})
	}
}

func TestInnerEvent_FileShareIsUserMessage(t *testing.T) {
	ev := innerEvent{Type: "message", Subtype: "file_share", ChannelType: "im", ThreadTS: "1.1"}
	assert.True(t, ev.isUserMessage())
}
