// Package queue holds the durable queue backends that decouple webhook
// acknowledgment from processing.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"slackstream/internal/config"
	"slackstream/internal/domain"
)

// New builds the queue selected by cfg. It returns a nil queue when none is
// configured, which puts the router in synchronous mode.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Queue, error) {
	switch backend := cfg.QueueBackend(); backend {
	case "none":
		return nil, nil
	case "sqs":
		q, err := NewSQSFromConfig(ctx, cfg.Queue.SQSURL, cfg.AWS.Region, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "amqp":
		q, err := NewAMQP(AMQPConfig{
			URL:      cfg.Queue.AMQPURL,
			Queue:    cfg.Queue.AMQPQueue,
			Prefetch: cfg.Queue.Prefetch,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case "memory":
		return NewMemory(cfg.Queue.Buffer, cfg.Queue.MaxAttempts, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}
