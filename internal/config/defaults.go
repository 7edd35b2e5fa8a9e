package config

import "time"

func Defaults() *Config {
	return &Config{
		Service: "slackstream",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Slack: SlackConfig{
			StreamUpdateInterval: 700 * time.Millisecond,
			ThreadHistoryLimit:   10,
			ChannelHistoryLimit:  50,
		},
		Queue: QueueConfig{
			Backend:     "auto",
			AMQPQueue:   "slackstream.events",
			Prefetch:    1,
			Buffer:      100,
			MaxAttempts: 3,
		},
		Model: ModelConfig{
			Provider:         "bedrock",
			AnthropicModel:   "claude-sonnet-4-20250514",
			AnthropicAPIBase: "https://api.anthropic.com",
			Temperature:      0.7,
			MaxTokens:        8192,
			Timeout:          5 * time.Minute,
		},
		Dedupe: DedupeConfig{
			Backend:    "none",
			SQLitePath: "~/.slackstream/events.db",
			TTL:        24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":3000",
		},
		Batch: BatchConfig{
			Concurrency: 1,
		},
	}
}
