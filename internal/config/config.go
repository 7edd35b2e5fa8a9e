package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for slackstream.
type Config struct {
	Service string       `yaml:"service"`
	Log     LogConfig    `yaml:"log"`
	Slack   SlackConfig  `yaml:"slack"`
	Queue   QueueConfig  `yaml:"queue"`
	Model   ModelConfig  `yaml:"model"`
	Dedupe  DedupeConfig `yaml:"dedupe"`
	Server  ServerConfig `yaml:"server"`
	Batch   BatchConfig  `yaml:"batch"`
	AWS     AWSConfig    `yaml:"aws"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "json" | "text"
}

type SlackConfig struct {
	BotToken      string `yaml:"botToken,omitempty"`
	SigningSecret string `yaml:"signingSecret,omitempty"`
	// Secrets Manager ids; when set they win over the literal values above.
	BotTokenSecretID      string        `yaml:"botTokenSecretId,omitempty"`
	SigningSecretSecretID string        `yaml:"signingSecretSecretId,omitempty"`
	APIURL                string        `yaml:"apiUrl,omitempty"`
	StreamUpdateInterval  time.Duration `yaml:"streamUpdateInterval"`
	ThreadHistoryLimit    int           `yaml:"threadHistoryLimit"`
	ChannelHistoryLimit   int           `yaml:"channelHistoryLimit"`
}

type QueueConfig struct {
	Backend     string `yaml:"backend"` // "auto" | "sqs" | "amqp" | "memory" | "none"
	SQSURL      string `yaml:"sqsUrl,omitempty"`
	AMQPURL     string `yaml:"amqpUrl,omitempty"`
	AMQPQueue   string `yaml:"amqpQueue"`
	Prefetch    int    `yaml:"prefetch"`
	Buffer      int    `yaml:"buffer"`      // in-memory queue capacity
	MaxAttempts int    `yaml:"maxAttempts"` // in-memory redelivery bound
}

type ModelConfig struct {
	Provider         string        `yaml:"provider"`           // "bedrock" | "anthropic"
	Fallback         string        `yaml:"fallback,omitempty"` // optional second provider
	BedrockModel     string        `yaml:"bedrockModel,omitempty"`
	AnthropicAPIKey  string        `yaml:"anthropicApiKey,omitempty"`
	AnthropicModel   string        `yaml:"anthropicModel"`
	AnthropicAPIBase string        `yaml:"anthropicApiBase"`
	Temperature      float32       `yaml:"temperature"`
	MaxTokens        int32         `yaml:"maxTokens"`
	SystemPrompt     string        `yaml:"systemPrompt,omitempty"`
	Timeout          time.Duration `yaml:"timeout"`
}

type DedupeConfig struct {
	Backend    string        `yaml:"backend"` // "none" | "sqlite" | "redis"
	SQLitePath string        `yaml:"sqlitePath"`
	RedisURL   string        `yaml:"redisUrl,omitempty"`
	TTL        time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type AWSConfig struct {
	Region string `yaml:"region,omitempty"`
}

// QueueBackend resolves "auto" to the backend implied by the configured URLs.
func (c *Config) QueueBackend() string {
	switch c.Queue.Backend {
	case "", "auto":
		switch {
		case c.Queue.SQSURL != "":
			return "sqs"
		case c.Queue.AMQPURL != "":
			return "amqp"
		default:
			return "none"
		}
	}
	return c.Queue.Backend
}

// Load reads a YAML config file over the defaults and applies env overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Dedupe.SQLitePath = ExpandPath(cfg.Dedupe.SQLitePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays deployment environment variables on cfg. Unset or empty
// variables leave the current value alone.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("AWS_LAMBDA_FUNCTION_NAME", &cfg.Service)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("SLACK_BOT_TOKEN", &cfg.Slack.BotToken)
	str("SLACK_SIGNING_SECRET", &cfg.Slack.SigningSecret)
	str("token", &cfg.Slack.BotTokenSecretID)
	str("secret", &cfg.Slack.SigningSecretSecretID)

	str("QUEUE_BACKEND", &cfg.Queue.Backend)
	str("SQS_QUEUE_URL", &cfg.Queue.SQSURL)
	str("AMQP_URL", &cfg.Queue.AMQPURL)
	str("AMQP_QUEUE", &cfg.Queue.AMQPQueue)

	str("MODEL_PROVIDER", &cfg.Model.Provider)
	str("BEDROCK_MODEL_INFERENCE_PROFILE", &cfg.Model.BedrockModel)
	str("ANTHROPIC_API_KEY", &cfg.Model.AnthropicAPIKey)
	str("ANTHROPIC_MODEL", &cfg.Model.AnthropicModel)
	str("MODEL_FALLBACK", &cfg.Model.Fallback)

	str("DEDUPE_BACKEND", &cfg.Dedupe.Backend)
	str("DEDUPE_SQLITE_PATH", &cfg.Dedupe.SQLitePath)
	str("REDIS_URL", &cfg.Dedupe.RedisURL)

	str("HTTP_ADDR", &cfg.Server.Addr)
	str("AWS_REGION", &cfg.AWS.Region)

	if v, ok := lookup("BATCH_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATCH_CONCURRENCY: %w", err)
		}
		cfg.Batch.Concurrency = n
	}
	return nil
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, "log.format must be one of: json, text")
	}

	switch cfg.QueueBackend() {
	case "none", "memory":
	case "sqs":
		if cfg.Queue.SQSURL == "" {
			errs = append(errs, "queue.sqsUrl is required for the sqs backend")
		}
	case "amqp":
		if cfg.Queue.AMQPURL == "" {
			errs = append(errs, "queue.amqpUrl is required for the amqp backend")
		}
		if cfg.Queue.AMQPQueue == "" {
			errs = append(errs, "queue.amqpQueue is required for the amqp backend")
		}
	default:
		errs = append(errs, "queue.backend must be one of: auto, sqs, amqp, memory, none")
	}
	if cfg.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue.maxAttempts must be >= 1")
	}

	switch cfg.Model.Provider {
	case "bedrock", "anthropic":
	default:
		errs = append(errs, "model.provider must be one of: bedrock, anthropic")
	}
	switch cfg.Model.Fallback {
	case "":
	case "bedrock", "anthropic":
		if cfg.Model.Fallback == cfg.Model.Provider {
			errs = append(errs, "model.fallback must differ from model.provider")
		}
	default:
		errs = append(errs, "model.fallback must be one of: bedrock, anthropic")
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 1 {
		errs = append(errs, "model.temperature must be between 0 and 1")
	}
	if cfg.Model.MaxTokens < 1 {
		errs = append(errs, "model.maxTokens must be >= 1")
	}

	switch cfg.Dedupe.Backend {
	case "none":
	case "sqlite":
		if cfg.Dedupe.SQLitePath == "" {
			errs = append(errs, "dedupe.sqlitePath is required for the sqlite backend")
		}
	case "redis":
		if cfg.Dedupe.RedisURL == "" {
			errs = append(errs, "dedupe.redisUrl is required for the redis backend")
		}
	default:
		errs = append(errs, "dedupe.backend must be one of: none, sqlite, redis")
	}

	if cfg.Slack.StreamUpdateInterval < 0 {
		errs = append(errs, "slack.streamUpdateInterval must not be negative")
	}
	if cfg.Slack.ThreadHistoryLimit < 1 || cfg.Slack.ChannelHistoryLimit < 1 {
		errs = append(errs, "slack history limits must be >= 1")
	}
	if cfg.Batch.Concurrency < 1 || cfg.Batch.Concurrency > 10 {
		errs = append(errs, "batch.concurrency must be between 1 and 10")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
