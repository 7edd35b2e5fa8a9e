package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"slackstream/internal/config"
	"slackstream/internal/domain"
)

// ProviderConstructor creates a provider from the model config.
type ProviderConstructor func(ctx context.Context, mc config.ModelConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches model providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	region := f.cfg.AWS.Region
	f.constructors["bedrock"] = func(ctx context.Context, mc config.ModelConfig, logger *slog.Logger) (domain.Provider, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewBedrock(BedrockConfig{
			Client: bedrockruntime.NewFromConfig(awsCfg),
			Model:  mc.BedrockModel,
			Logger: logger,
		}), nil
	}

	f.constructors["anthropic"] = func(_ context.Context, mc config.ModelConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewAnthropic(AnthropicConfig{
			APIKey:  mc.AnthropicAPIKey,
			APIBase: mc.AnthropicAPIBase,
			Model:   mc.AnthropicModel,
			Timeout: mc.Timeout,
			Logger:  logger,
		}), nil
	}
}

// Get returns the provider with the given name. Created providers are cached
// so the same instance is reused across invocations.
func (f *Factory) Get(ctx context.Context, name string) (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p, err := ctor(ctx, f.cfg.Model, f.logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	f.cache[name] = p
	return p, nil
}

// Default returns the configured provider, wrapped in a failover chain when
// a fallback is configured.
func (f *Factory) Default(ctx context.Context) (domain.Provider, error) {
	primary, err := f.Get(ctx, f.cfg.Model.Provider)
	if err != nil {
		return nil, err
	}
	if f.cfg.Model.Fallback == "" {
		return primary, nil
	}
	fallback, err := f.Get(ctx, f.cfg.Model.Fallback)
	if err != nil {
		f.logger.Warn("fallback provider unavailable", "provider", f.cfg.Model.Fallback, "err", err)
		return primary, nil
	}
	return NewFailoverProvider([]domain.Provider{primary, fallback}, f.logger), nil
}
