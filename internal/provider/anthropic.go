package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"slackstream/internal/domain"
)

const (
	anthropicAPIBase      = "https://api.anthropic.com"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	defaultHTTPTimeout    = 5 * time.Minute
)

// Anthropic implements domain.Provider over the Messages API with
// server-sent events.
type Anthropic struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type AnthropicConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  streamingHTTPClient(cfg.Timeout),
		retry:   defaultRetryPolicy,
		logger:  cfg.Logger.With("provider", "anthropic"),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int32          `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []anthropicMsg `json:"messages"`
	Temperature float32        `json:"temperature"`
	Stream      bool           `json:"stream"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *Anthropic) ConverseStream(ctx context.Context, req domain.ConverseRequest) (domain.ModelStream, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}
	model := req.Model
	if model == "" {
		model = a.model
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Stream:      true,
	}
	for _, t := range normalizeTurns(req.Turns) {
		body.Messages = append(body.Messages, anthropicMsg{Role: string(t.Role), Content: t.Content})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, a.client, a.retry, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
		return httpReq, nil
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	return newSSEStream(resp.Body), nil
}

// sseStream decodes the Messages API event stream one event at a time.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending []domain.StreamEvent
	usage   domain.Usage
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: sc}
}

type sseEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (s *sseStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	for len(s.pending) == 0 {
		if s.done {
			return domain.StreamEvent{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return domain.StreamEvent{}, err
		}
		if err := s.readEvent(); err != nil {
			return domain.StreamEvent{}, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// readEvent consumes lines up to the next data payload and queues the
// resulting domain events.
func (s *sseStream) readEvent() error {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		return s.apply(ev)
	}
	if err := s.scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	// Only message_stop ends a reply; a body that closes first was cut off.
	return fmt.Errorf("anthropic stream ended before message_stop: %w", io.ErrUnexpectedEOF)
}

func (s *sseStream) apply(ev sseEvent) error {
	switch ev.Type {
	case "message_start":
		s.usage.InputTokens = ev.Message.Usage.InputTokens
		s.usage.OutputTokens = ev.Message.Usage.OutputTokens
		s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamOther})
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamDelta, Text: ev.Delta.Text})
		} else {
			s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamOther})
		}
	case "message_delta":
		if ev.Usage.OutputTokens > 0 {
			s.usage.OutputTokens = ev.Usage.OutputTokens
		}
		s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamStop, StopReason: ev.Delta.StopReason})
	case "message_stop":
		s.usage.TotalTokens = s.usage.InputTokens + s.usage.OutputTokens
		s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamUsage, Usage: s.usage})
		s.done = true
	case "error":
		return fmt.Errorf("anthropic stream error %s: %s", ev.Error.Type, ev.Error.Message)
	default:
		s.pending = append(s.pending, domain.StreamEvent{Type: domain.StreamOther})
	}
	return nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
