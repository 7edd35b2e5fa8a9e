package ingest

import (
	"context"
	"log/slog"

	"slackstream/internal/domain"
	"slackstream/internal/metrics"
)

// Processor runs an envelope through the full synchronous processing path.
type Processor interface {
	Process(ctx context.Context, raw domain.Envelope) (Response, error)
}

// RouterConfig configures the ingestion router.
type RouterConfig struct {
	Queue     domain.Queue // nil runs every envelope inline
	Processor Processor
	Logger    *slog.Logger
}

// Router acknowledges webhook deliveries inside the platform's deadline.
type Router struct {
	queue     domain.Queue
	processor Processor
	logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		queue:     cfg.Queue,
		processor: cfg.Processor,
		logger:    cfg.Logger,
	}
}

// Route answers one HTTP-shaped envelope. invocationID identifies the current
// invocation and becomes the ordering key on strictly ordered queues.
func (r *Router) Route(ctx context.Context, raw domain.Envelope, invocationID string) Response {
	kind := Classify(raw)
	metrics.EnvelopesByKind(kind.String()).Inc()
	logger := r.logger.With("event_type", kind.String(), "request_id", invocationID)

	if kind == domain.KindUnknown || kind == domain.KindBatch {
		logger.Error("unknown event type", "size", len(raw))
		return UnknownResponse()
	}

	req, err := ParseRequest(raw)
	if err != nil {
		logger.Error("cannot decode envelope", "err", err)
		return UnknownResponse()
	}

	if challenge, ok := TryParseHandshake(req.Body); ok {
		logger.Info("responding to url verification challenge")
		metrics.HandshakesTotal.Inc()
		return HandshakeResponse(challenge)
	}

	if r.queue == nil {
		logger.Warn("no queue configured, processing synchronously")
		metrics.InlineTotal.Inc()
		resp, err := r.processor.Process(ctx, raw)
		if err != nil {
			logger.Error("synchronous processing failed", "err", err)
			return Response{StatusCode: 500}
		}
		return resp
	}

	msg := domain.QueuedMessage{Body: raw}
	if r.queue.Ordered() {
		msg.GroupID = invocationID
	}
	if err := r.queue.Enqueue(ctx, msg); err != nil {
		// The platform redelivers on a non-2xx answer.
		logger.Error("enqueue failed", "err", err)
		metrics.EnqueueErrors.Inc()
		return Response{StatusCode: 500}
	}
	logger.Info("sent event to queue for async processing", "method", req.Method)
	metrics.EnqueuedTotal.Inc()
	return OK()
}
