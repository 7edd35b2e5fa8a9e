// Package bridge pipes a remote model's token stream into a live platform
// message, one delta at a time.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"slackstream/internal/domain"
	"slackstream/internal/markup"
	"slackstream/internal/metrics"
)

// DefaultSystemPrompt instructs the model about the workspace it answers in.
const DefaultSystemPrompt = `You're an assistant in a Slack workspace.
Users in the workspace will ask you to help them write something or to think deeply about a specific topic.
You'll respond to those questions in a professional way.
When you include markdown text, convert them to Slack compatible ones.
When a prompt has Slack's special syntax like <@USER_ID> or <#CHANNEL_ID>, you must keep them as-is in your response.`

const (
	DefaultTemperature float32 = 0.7
	DefaultMaxTokens   int32   = 8192
)

type Config struct {
	Provider     domain.Provider
	Streamer     domain.Streamer
	Model        string // empty uses the provider's default
	SystemPrompt string
	Temperature  *float32 // nil uses DefaultTemperature; 0 is a valid setting
	MaxTokens    int32
	Logger       *slog.Logger
}

// Bridge is stateless between calls and safe for concurrent use.
type Bridge struct {
	provider    domain.Provider
	streamer    domain.Streamer
	model       string
	system      string
	temperature float32
	maxTokens   int32
	logger      *slog.Logger
}

func New(cfg Config) *Bridge {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		provider:    cfg.Provider,
		streamer:    cfg.Streamer,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger.With("component", "bridge"),
	}
}

// Stream sends turns to the model and republishes the reply into target as
// it is generated. An empty systemPrompt uses the configured one. The sink is
// stopped exactly once on success and on a best-effort basis on failure.
func (b *Bridge) Stream(ctx context.Context, turns []domain.Turn, systemPrompt string, target domain.StreamTarget) (summary domain.StreamSummary, err error) {
	if systemPrompt == "" {
		systemPrompt = b.system
	}
	logger := b.logger.With("channel", target.ChannelID, "thread_ts", target.ThreadTS, "provider", b.provider.Name())
	logger.Debug("messages being sent to model", "turns", len(turns))

	start := time.Now()
	metrics.ModelStreamsTotal.Inc()
	defer func() {
		metrics.StreamLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ModelStreamErrors.Inc()
			logger.Error("error in streaming call", "err", err, "deltas", summary.Deltas)
		}
	}()

	stream, err := b.provider.ConverseStream(ctx, domain.ConverseRequest{
		Model:       b.model,
		Turns:       turns,
		System:      systemPrompt,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		return summary, fmt.Errorf("open model stream: %w", err)
	}
	defer stream.Close()

	// The sink opens before the first event is pulled.
	session, err := b.streamer.StartStream(ctx, target)
	if err != nil {
		return summary, fmt.Errorf("start reply stream: %w", err)
	}
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	stopped := false
	defer func() {
		if stopped {
			return
		}
		if serr := session.Stop(context.WithoutCancel(ctx)); serr != nil {
			logger.Warn("cannot stop reply stream after failure", "err", serr)
		}
	}()

	for {
		ev, nerr := stream.Next(ctx)
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			return summary, fmt.Errorf("read model stream: %w", nerr)
		}

		switch ev.Type {
		case domain.StreamDelta:
			if ev.Text == "" {
				continue
			}
			if aerr := session.Append(ctx, markup.Transcode(ev.Text)); aerr != nil {
				return summary, fmt.Errorf("append to reply stream: %w", aerr)
			}
			summary.Deltas++
		case domain.StreamStop:
			summary.StopReason = ev.StopReason
			metrics.StopReasons(ev.StopReason).Inc()
			logger.Info("model stream stopped", "stop_reason", ev.StopReason)
		case domain.StreamUsage:
			summary.Usage = ev.Usage
			metrics.InputTokensTotal.Add(int64(ev.Usage.InputTokens))
			metrics.OutputTokensTotal.Add(int64(ev.Usage.OutputTokens))
			logger.Info("model token usage",
				"input_tokens", ev.Usage.InputTokens,
				"output_tokens", ev.Usage.OutputTokens,
				"total_tokens", ev.Usage.TotalTokens,
			)
		}
	}

	stopped = true
	if err := session.Stop(ctx); err != nil {
		return summary, fmt.Errorf("stop reply stream: %w", err)
	}
	return summary, nil
}
