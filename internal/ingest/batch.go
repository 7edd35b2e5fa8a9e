package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"slackstream/internal/domain"
	"slackstream/internal/metrics"
)

// BatchConfig configures the batch requeue processor.
type BatchConfig struct {
	Processor   Processor
	Concurrency int // records in flight per batch, default 1
	Logger      *slog.Logger
}

// BatchProcessor replays queued envelopes and reports per-record outcome so
// only failed records are redelivered.
type BatchProcessor struct {
	processor   Processor
	concurrency int
	logger      *slog.Logger
}

func NewBatchProcessor(cfg BatchConfig) *BatchProcessor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BatchProcessor{
		processor:   cfg.Processor,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Process handles every record of an SQS batch independently.
func (b *BatchProcessor) Process(ctx context.Context, ev events.SQSEvent) events.SQSEventResponse {
	b.logger.Info("processing queued records", "count", len(ev.Records))

	failed := make([]bool, len(ev.Records))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, rec := range ev.Records {
		g.Go(func() error {
			if err := b.ProcessRecord(ctx, []byte(rec.Body)); err != nil {
				b.logger.Error("record failed, leaving it for redelivery",
					"message_id", rec.MessageId, "err", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for i, rec := range ev.Records {
		if failed[i] {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp
}

// ProcessRecord replays one queued envelope through the synchronous path.
// It never enqueues again. Panics are reported as errors.
func (b *BatchProcessor) ProcessRecord(ctx context.Context, body []byte) (err error) {
	metrics.BatchRecordsTotal.Inc()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
		if err != nil {
			metrics.BatchFailuresTotal.Inc()
		}
	}()

	raw := domain.Envelope(body)
	b.logger.Info("processing queued event", "event_type", Classify(raw).String())

	resp, err := b.processor.Process(ctx, raw)
	if err != nil {
		return err
	}
	b.logger.Info("processed queued event", "status_code", resp.StatusCode)
	return nil
}
