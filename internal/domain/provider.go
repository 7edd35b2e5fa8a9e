package domain

import "context"

// ConverseRequest is a streaming call to a remote model.
type ConverseRequest struct {
	Model       string
	Turns       []Turn
	System      string
	Temperature float32
	MaxTokens   int32
}

// Provider opens token streams against a remote model.
type Provider interface {
	Name() string
	ConverseStream(ctx context.Context, req ConverseRequest) (ModelStream, error)
}

// ModelStream is a lazy, finite, non-restartable sequence of events.
// Next returns io.EOF once the stream is exhausted.
type ModelStream interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamDelta StreamEventType = "delta"
	StreamStop  StreamEventType = "stop"
	StreamUsage StreamEventType = "usage"
	StreamOther StreamEventType = "other"
)

// StreamEvent is a single event from a model stream.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Text       string          `json:"text,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      Usage           `json:"usage,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StreamSummary is what a finished reply reports back.
type StreamSummary struct {
	Usage      Usage
	StopReason string
	Deltas     int
}
