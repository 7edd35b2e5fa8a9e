package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"slackstream/internal/domain"
)

// Handler is the single function entry point: it accepts direct webhook
// deliveries and queue batches alike.
type Handler struct {
	router *Router
	batch  *BatchProcessor
	logger *slog.Logger
}

func NewHandler(router *Router, batch *BatchProcessor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, batch: batch, logger: logger}
}

// Invoke dispatches a raw invocation payload.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	if Classify(raw) == domain.KindBatch {
		var ev events.SQSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.logger.Error("cannot decode queue batch", "err", err)
			return nil, fmt.Errorf("decode sqs event: %w", err)
		}
		return h.batch.Process(ctx, ev), nil
	}
	return h.router.Route(ctx, raw, InvocationID(ctx)), nil
}

// InvocationID returns the runtime request id, or a fresh uuid outside Lambda.
func InvocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
