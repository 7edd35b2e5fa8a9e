// Package secrets resolves Slack credentials stored as JSON documents in AWS
// Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"slackstream/internal/config"
)

// SecretsAPI is the subset of the Secrets Manager client used by Resolver.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver fetches and caches secret documents by id.
type Resolver struct {
	client SecretsAPI
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]map[string]string
}

func NewResolver(client SecretsAPI, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client: client,
		logger: logger.With("component", "secrets"),
		cache:  make(map[string]map[string]string),
	}
}

// NewResolverFromConfig loads the default AWS credential chain.
func NewResolverFromConfig(ctx context.Context, region string, logger *slog.Logger) (*Resolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewResolver(secretsmanager.NewFromConfig(awsCfg), logger), nil
}

// Lookup returns one field of the JSON secret identified by secretID.
func (r *Resolver) Lookup(ctx context.Context, secretID, field string) (string, error) {
	doc, err := r.document(ctx, secretID)
	if err != nil {
		return "", err
	}
	v, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("secret %s has no field %q", secretID, field)
	}
	return v, nil
}

func (r *Resolver) document(ctx context.Context, secretID string) (map[string]string, error) {
	r.mu.Lock()
	doc, ok := r.cache[secretID]
	r.mu.Unlock()
	if ok {
		return doc, nil
	}

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if raw == "" && len(out.SecretBinary) > 0 {
		raw = string(out.SecretBinary)
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", secretID, err)
	}

	r.mu.Lock()
	r.cache[secretID] = doc
	r.mu.Unlock()
	r.logger.Debug("secret loaded", "secret_id", secretID, "fields", len(doc))
	return doc, nil
}

// ResolveSlack fills the bot token and signing secret from Secrets Manager for
// every credential whose secret id is configured. Values already taken from
// the environment are kept when no id is set.
func (r *Resolver) ResolveSlack(ctx context.Context, cfg *config.SlackConfig) error {
	if cfg.BotTokenSecretID != "" {
		v, err := r.Lookup(ctx, cfg.BotTokenSecretID, "token")
		if err != nil {
			return fmt.Errorf("bot token: %w", err)
		}
		cfg.BotToken = v
	}
	if cfg.SigningSecretSecretID != "" {
		v, err := r.Lookup(ctx, cfg.SigningSecretSecretID, "secret")
		if err != nil {
			return fmt.Errorf("signing secret: %w", err)
		}
		cfg.SigningSecret = v
	}
	return nil
}

// NeedsLookup reports whether any Slack credential comes from Secrets Manager.
func NeedsLookup(cfg config.SlackConfig) bool {
	return cfg.BotTokenSecretID != "" || cfg.SigningSecretSecretID != ""
}
