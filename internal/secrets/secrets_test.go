package secrets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackstream/internal/config"
)

type fakeSecrets struct {
	values map[string]string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func newTestResolver(values map[string]string) (*Resolver, *fakeSecrets) {
	f := &fakeSecrets{values: values}
	return NewResolver(f, slog.New(slog.NewTextHandler(io.Discard, nil))), f
}

func TestLookup_FieldAndCache(t *testing.T) {
	r, f := newTestResolver(map[string]string{
		"slack/token": `{"token":"xoxb-1","other":"x"}`,
	})
	ctx := context.Background()

	v, err := r.Lookup(ctx, "slack/token", "token")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-1", v)

	v, err = r.Lookup(ctx, "slack/token", "other")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	assert.Equal(t, 1, f.calls, "second lookup should hit the cache")
}

func TestLookup_Errors(t *testing.T) {
	r, _ := newTestResolver(map[string]string{
		"bad":   `not json`,
		"empty": `{}`,
	})
	ctx := context.Background()

	_, err := r.Lookup(ctx, "missing", "token")
	assert.ErrorContains(t, err, "get secret missing")

	_, err = r.Lookup(ctx, "bad", "token")
	assert.ErrorContains(t, err, "decode secret bad")

	_, err = r.Lookup(ctx, "empty", "token")
	assert.ErrorContains(t, err, `no field "token"`)
}

func TestResolveSlack(t *testing.T) {
	r, _ := newTestResolver(map[string]string{
		"tok": `{"token":"xoxb-secret"}`,
		"sig": `{"secret":"s3cr3t"}`,
	})

	cfg := config.SlackConfig{
		BotToken:              "from-env",
		BotTokenSecretID:      "tok",
		SigningSecret:         "env-signing",
		SigningSecretSecretID: "sig",
	}
	require.True(t, NeedsLookup(cfg))
	require.NoError(t, r.ResolveSlack(context.Background(), &cfg))
	assert.Equal(t, "xoxb-secret", cfg.BotToken)
	assert.Equal(t, "s3cr3t", cfg.SigningSecret)
}

func TestResolveSlack_EnvFallback(t *testing.T) {
	r, f := newTestResolver(nil)
	cfg := config.SlackConfig{BotToken: "xoxb-env", SigningSecret: "env"}

	assert.False(t, NeedsLookup(cfg))
	require.NoError(t, r.ResolveSlack(context.Background(), &cfg))
	assert.Equal(t, "xoxb-env", cfg.BotToken)
	assert.Equal(t, "env", cfg.SigningSecret)
	assert.Zero(t, f.calls)
}

func TestResolveSlack_MissingSecret(t *testing.T) {
	r, _ := newTestResolver(nil)
	cfg := config.SlackConfig{BotTokenSecretID: "gone"}
	err := r.ResolveSlack(context.Background(), &cfg)
	assert.ErrorContains(t, err, "bot token")
}
