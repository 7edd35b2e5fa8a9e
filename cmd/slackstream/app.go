package main

import (
	"context"
	"fmt"

	"slackstream/internal/assistant"
	"slackstream/internal/bridge"
	"slackstream/internal/channel"
	"slackstream/internal/config"
	"slackstream/internal/convo"
	"slackstream/internal/dedupe"
	"slackstream/internal/domain"
	"slackstream/internal/ingest"
	"slackstream/internal/provider"
	"slackstream/internal/queue"
	"slackstream/internal/secrets"
)

// app holds every long-lived client of one process.
type app struct {
	ledger  dedupe.Ledger
	queue   domain.Queue
	router  *ingest.Router
	batch   *ingest.BatchProcessor
	handler *ingest.Handler
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if secrets.NeedsLookup(cfg.Slack) {
		res, err := secrets.NewResolverFromConfig(ctx, cfg.AWS.Region, logger)
		if err != nil {
			return nil, err
		}
		if err := res.ResolveSlack(ctx, &cfg.Slack); err != nil {
			return nil, fmt.Errorf("resolve slack credentials: %w", err)
		}
	}

	slackAdapter := channel.NewSlack(channel.SlackConfig{
		BotToken:       cfg.Slack.BotToken,
		APIURL:         cfg.Slack.APIURL,
		UpdateInterval: cfg.Slack.StreamUpdateInterval,
		Logger:         logger,
	})

	prov, err := provider.NewFactory(cfg, logger).Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("model provider: %w", err)
	}

	ledger, err := dedupe.New(ctx, cfg.Dedupe, logger)
	if err != nil {
		return nil, fmt.Errorf("event ledger: %w", err)
	}

	processor := assistant.New(assistant.Config{
		SigningSecret: cfg.Slack.SigningSecret,
		Platform:      slackAdapter,
		History: convo.NewBuilder(convo.Config{
			Conversations: slackAdapter,
			ThreadLimit:   cfg.Slack.ThreadHistoryLimit,
			ChannelLimit:  cfg.Slack.ChannelHistoryLimit,
			Logger:        logger,
		}),
		Responder: bridge.New(bridge.Config{
			Provider:     prov,
			Streamer:     slackAdapter,
			SystemPrompt: cfg.Model.SystemPrompt,
			Temperature:  &cfg.Model.Temperature,
			MaxTokens:    cfg.Model.MaxTokens,
			Logger:       logger,
		}),
		Ledger: ledger,
		Logger: logger,
	})

	q, err := queue.New(ctx, cfg, logger)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("queue: %w", err)
	}

	router := ingest.NewRouter(ingest.RouterConfig{Queue: q, Processor: processor, Logger: logger})
	batch := ingest.NewBatchProcessor(ingest.BatchConfig{
		Processor:   processor,
		Concurrency: cfg.Batch.Concurrency,
		Logger:      logger,
	})

	return &app{
		ledger:  ledger,
		queue:   q,
		router:  router,
		batch:   batch,
		handler: ingest.NewHandler(router, batch, logger),
	}, nil
}

func (a *app) Close() {
	switch q := a.queue.(type) {
	case *queue.AMQP:
		if err := q.Close(); err != nil {
			logger.Warn("closing amqp connection", "err", err)
		}
	case *queue.Memory:
		q.Close()
	}
	if err := a.ledger.Close(); err != nil {
		logger.Warn("closing event ledger", "err", err)
	}
}
