package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"slackstream/internal/domain"
)

// BedrockAPI is the subset of the Bedrock runtime client used by Bedrock.
type BedrockAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Bedrock implements domain.Provider with the Bedrock ConverseStream API.
type Bedrock struct {
	client BedrockAPI
	model  string
	logger *slog.Logger
}

type BedrockConfig struct {
	Client BedrockAPI
	Model  string // model id or inference profile ARN
	Logger *slog.Logger
}

func NewBedrock(cfg BedrockConfig) *Bedrock {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bedrock{
		client: cfg.Client,
		model:  cfg.Model,
		logger: cfg.Logger.With("provider", "bedrock"),
	}
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) ConverseStream(ctx context.Context, req domain.ConverseRequest) (domain.ModelStream, error) {
	model := req.Model
	if model == "" {
		model = b.model
	}
	if model == "" {
		return nil, fmt.Errorf("bedrock: no model configured")
	}

	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: bedrockMessages(req.Turns),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(req.Temperature),
			MaxTokens:   aws.Int32(req.MaxTokens),
		},
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := b.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	b.logger.Debug("stream opened", "model", model, "turns", len(in.Messages))
	return newBedrockStream(out.GetStream()), nil
}

func bedrockMessages(turns []domain.Turn) []types.Message {
	var msgs []types.Message
	for _, t := range normalizeTurns(turns) {
		role := types.ConversationRoleUser
		if t.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: t.Content}},
		})
	}
	return msgs
}

// bedrockEvents is satisfied by *bedrockruntime.ConverseStreamEventStream.
type bedrockEvents interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

type bedrockStream struct {
	events  bedrockEvents
	stopped bool // messageStop seen
}

func newBedrockStream(events bedrockEvents) *bedrockStream {
	return &bedrockStream{events: events}
}

func (s *bedrockStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	select {
	case <-ctx.Done():
		return domain.StreamEvent{}, ctx.Err()
	case ev, ok := <-s.events.Events():
		if !ok {
			if err := s.events.Err(); err != nil {
				return domain.StreamEvent{}, fmt.Errorf("bedrock stream: %w", err)
			}
			if !s.stopped {
				return domain.StreamEvent{}, fmt.Errorf("bedrock stream ended before messageStop: %w", io.ErrUnexpectedEOF)
			}
			return domain.StreamEvent{}, io.EOF
		}
		if _, ok := ev.(*types.ConverseStreamOutputMemberMessageStop); ok {
			s.stopped = true
		}
		return mapBedrockEvent(ev), nil
	}
}

func mapBedrockEvent(ev types.ConverseStreamOutput) domain.StreamEvent {
	switch v := ev.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return domain.StreamEvent{Type: domain.StreamDelta, Text: d.Value}
		}
	case *types.ConverseStreamOutputMemberMessageStop:
		return domain.StreamEvent{Type: domain.StreamStop, StopReason: string(v.Value.StopReason)}
	case *types.ConverseStreamOutputMemberMetadata:
		if u := v.Value.Usage; u != nil {
			return domain.StreamEvent{Type: domain.StreamUsage, Usage: domain.Usage{
				InputTokens:  int(aws.ToInt32(u.InputTokens)),
				OutputTokens: int(aws.ToInt32(u.OutputTokens)),
				TotalTokens:  int(aws.ToInt32(u.TotalTokens)),
			}}
		}
	}
	return domain.StreamEvent{Type: domain.StreamOther}
}

func (s *bedrockStream) Close() error {
	return s.events.Close()
}
