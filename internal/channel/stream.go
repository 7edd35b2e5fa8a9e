package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"slackstream/internal/domain"
)

// StartStream opens a live reply in target's thread. The first Append posts
// the message; later appends edit it in place, at most once per update
// interval unless the delta ends a line. Text past the message size limit
// rolls over into a new message.
func (s *Slack) StartStream(ctx context.Context, target domain.StreamTarget) (domain.StreamSession, error) {
	if target.ChannelID == "" || target.ThreadTS == "" {
		return nil, fmt.Errorf("stream target needs a channel and thread")
	}
	s.logger.Debug("reply stream started",
		"channel_id", target.ChannelID,
		"thread_ts", target.ThreadTS,
		"recipient_team_id", target.TeamID,
		"recipient_user_id", target.UserID,
	)
	return &liveMessage{
		slack:    s,
		target:   target,
		interval: s.updateInterval,
		maxLen:   slackMaxMsgLen,
	}, nil
}

type liveMessage struct {
	slack    *Slack
	target   domain.StreamTarget
	interval time.Duration
	maxLen   int

	mu          sync.Mutex
	ts          string
	buf         strings.Builder
	dirty       bool
	lastFlushed time.Time
	stopped     bool
}

func (m *liveMessage) Append(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return domain.ErrStreamClosed
	}
	if text == "" {
		return nil
	}
	m.buf.WriteString(text)
	m.dirty = true

	if m.ts != "" && m.slack.now().Sub(m.lastFlushed) < m.interval && !strings.Contains(text, "\n") {
		return nil
	}
	return m.flush(ctx)
}

func (m *liveMessage) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	if !m.dirty {
		return nil
	}
	return m.flush(ctx)
}

func (m *liveMessage) flush(ctx context.Context) error {
	chunks := splitSlackMessage(m.buf.String(), m.maxLen)
	for i, chunk := range chunks {
		if err := m.publish(ctx, chunk); err != nil {
			return err
		}
		if i < len(chunks)-1 {
			// The chunk is final; only unsent text stays buffered.
			m.ts = ""
			m.buf.Reset()
			m.buf.WriteString(strings.Join(chunks[i+1:], ""))
		}
	}
	m.dirty = false
	m.lastFlushed = m.slack.now()
	return nil
}

// publish posts chunk as a new thread message, or edits the current one.
func (m *liveMessage) publish(ctx context.Context, chunk string) error {
	api := m.slack.api
	if m.ts == "" {
		if strings.TrimSpace(chunk) == "" {
			// Nothing visible to post yet.
			return nil
		}
		_, ts, err := api.PostMessageContext(ctx, m.target.ChannelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionTS(m.target.ThreadTS),
		)
		if err != nil {
			return fmt.Errorf("chat.postMessage %s: %w", m.target.ChannelID, err)
		}
		m.ts = ts
		return nil
	}
	if _, _, _, err := api.UpdateMessageContext(ctx, m.target.ChannelID, m.ts, slack.MsgOptionText(chunk, false)); err != nil {
		return fmt.Errorf("chat.update %s: %w", m.target.ChannelID, err)
	}
	return nil
}
