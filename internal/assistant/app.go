// Package assistant is the synchronous processing path for Slack deliveries:
// request verification, deduplication and the assistant thread listeners.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"slackstream/internal/dedupe"
	"slackstream/internal/domain"
	"slackstream/internal/ingest"
	"slackstream/internal/metrics"
)

// Platform is the chat surface the listeners talk to.
type Platform interface {
	Say(ctx context.Context, channelID, threadTS, text string) error
	Greet(ctx context.Context, channelID, threadTS, text string, tc domain.ThreadContext) error
	ThreadContext(ctx context.Context, channelID, threadTS string) (domain.ThreadContext, bool, error)
	SaveThreadContext(ctx context.Context, channelID, threadTS string, tc domain.ThreadContext) error
	SetStatus(ctx context.Context, channelID, threadTS, status string) error
	SetSuggestedPrompts(ctx context.Context, channelID, threadTS, title string, prompts []domain.SuggestedPrompt) error
}

// History turns platform history into model input.
type History interface {
	Thread(ctx context.Context, channelID, threadTS string) ([]domain.Turn, error)
	ChannelSummary(ctx context.Context, channelID string) ([]domain.Turn, error)
}

// Responder streams a model reply into a thread.
type Responder interface {
	Stream(ctx context.Context, turns []domain.Turn, systemPrompt string, target domain.StreamTarget) (domain.StreamSummary, error)
}

type Config struct {
	SigningSecret string // empty disables verification
	Platform      Platform
	History       History
	Responder     Responder
	Ledger        dedupe.Ledger // nil keeps no record
	Logger        *slog.Logger
}

// App implements ingest.Processor.
type App struct {
	signingSecret string
	platform      Platform
	history       History
	responder     Responder
	ledger        dedupe.Ledger
	logger        *slog.Logger
}

func New(cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = dedupe.Nop{}
	}
	return &App{
		signingSecret: cfg.SigningSecret,
		platform:      cfg.Platform,
		history:       cfg.History,
		responder:     cfg.Responder,
		ledger:        cfg.Ledger,
		logger:        cfg.Logger.With("component", "assistant"),
	}
}

var _ ingest.Processor = (*App)(nil)

// Process runs one HTTP-shaped envelope to completion. A returned error means
// the work should be retried.
func (a *App) Process(ctx context.Context, raw domain.Envelope) (ingest.Response, error) {
	req, err := ingest.ParseRequest(raw)
	if err != nil {
		a.logger.Error("unknown event type", "err", err)
		return ingest.UnknownResponse(), nil
	}

	if err := a.verify(req); err != nil {
		a.logger.Warn("rejected request", "err", err)
		metrics.SignatureFailures.Inc()
		return ingest.Response{
			StatusCode: http.StatusUnauthorized,
			Headers:    map[string]string{ingest.NoRetryHeader: "1"},
		}, nil
	}

	if challenge, ok := ingest.TryParseHandshake(req.Body); ok {
		return ingest.HandshakeResponse(challenge), nil
	}

	var cb callback
	if err := json.Unmarshal([]byte(req.Body), &cb); err != nil {
		a.logger.Error("cannot decode payload", "err", err)
		return ingest.Response{StatusCode: http.StatusBadRequest}, nil
	}
	if cb.Type != slackevents.CallbackEvent {
		a.logger.Debug("ignoring payload", "type", cb.Type)
		return ingest.OK(), nil
	}

	switch err := a.handleCallback(ctx, cb); {
	case errors.Is(err, domain.ErrDuplicateEvent):
		metrics.DuplicateEvents.Inc()
		a.logger.Info("skipping duplicate event", "event_id", cb.EventID)
		return ingest.OK(), nil
	case err != nil:
		return ingest.Response{StatusCode: http.StatusInternalServerError}, err
	}
	return ingest.OK(), nil
}

// verify checks the request signature when a signing secret is configured.
func (a *App) verify(req ingest.Request) error {
	if a.signingSecret == "" {
		return nil
	}
	h := http.Header{}
	for k, v := range req.Headers {
		h.Set(k, v)
	}
	sv, err := slack.NewSecretsVerifier(h, a.signingSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if _, err := sv.Write([]byte(req.Body)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

func (a *App) handleCallback(ctx context.Context, cb callback) error {
	if cb.EventID != "" {
		seen, err := a.ledger.Seen(ctx, cb.EventID)
		if err != nil {
			a.logger.Warn("ledger lookup failed, processing anyway", "event_id", cb.EventID, "err", err)
		} else if seen {
			return domain.ErrDuplicateEvent
		}
	}

	var ev innerEvent
	if err := json.Unmarshal(cb.Event, &ev); err != nil {
		return fmt.Errorf("decode event %s: %w", cb.EventID, err)
	}
	teamID := cb.TeamID
	if teamID == "" {
		teamID = ev.Team
	}
	logger := a.logger.With("event_id", cb.EventID, "event", ev.Type)

	var err error
	switch {
	case ev.Type == eventThreadStarted && ev.AssistantThread != nil:
		metrics.EventsByType(ev.Type).Inc()
		a.threadStarted(ctx, logger, ev.AssistantThread)
	case ev.Type == eventContextChanged && ev.AssistantThread != nil:
		metrics.EventsByType(ev.Type).Inc()
		err = a.contextChanged(ctx, ev.AssistantThread)
	case ev.isUserMessage():
		metrics.EventsByType(ev.Type).Inc()
		err = a.userMessage(ctx, logger, teamID, ev)
	default:
		logger.Debug("no listener for event", "subtype", ev.Subtype)
		return nil
	}
	if err != nil {
		logger.Error("event processing failed", "err", err)
		return err
	}

	if cb.EventID != "" {
		if err := a.ledger.Mark(ctx, cb.EventID); err != nil {
			logger.Warn("cannot record processed event", "err", err)
		}
	}
	return nil
}
