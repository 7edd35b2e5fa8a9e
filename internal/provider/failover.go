package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"slackstream/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when opening a stream fails. Once a stream is open it is never switched:
// part of the reply may already be visible to the user.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
// At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// ConverseStream returns the first stream that opens successfully. A
// cancelled context ends the chain without trying the remaining providers.
func (fp *FailoverProvider) ConverseStream(ctx context.Context, req domain.ConverseRequest) (domain.ModelStream, error) {
	if len(fp.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range fp.providers {
		stream, err := p.ConverseStream(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("stream opened on fallback provider", "provider", p.Name(), "position", i+1)
			}
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open stream on %s: %w", p.Name(), err)
		}
		lastErr = err
		fp.logger.Warn("provider could not open stream", "provider", p.Name(), "position", i+1, "err", err)
	}
	return nil, fmt.Errorf("no provider could open a stream: %w", lastErr)
}
