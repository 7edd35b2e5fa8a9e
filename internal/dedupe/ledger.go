// Package dedupe records which Slack event ids have already been handled so
// queue redeliveries and Slack retries do not produce duplicate replies.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"slackstream/internal/config"
)

// Ledger remembers processed event ids.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
	Close() error
}

// Nop never reports an event as seen.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Mark(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }

// New builds the ledger selected by cfg.Backend.
func New(ctx context.Context, cfg config.DedupeConfig, logger *slog.Logger) (Ledger, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		l, err := NewSQLite(cfg.SQLitePath, cfg.TTL, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "redis":
		l, err := NewRedis(ctx, RedisConfig{URL: cfg.RedisURL, TTL: cfg.TTL, Logger: logger})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Backend)
	}
}
