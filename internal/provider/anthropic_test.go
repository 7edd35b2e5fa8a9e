package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"slackstream/internal/domain"
)

const sseBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":25,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: ping
data: {"type": "ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"**world**"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":15}}

event: message_stop
data: {"type":"message_stop"}

`

func collect(t *testing.T, s domain.ModelStream) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	for {
		ev, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestAnthropic_StreamsEvents(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	stream, err := a.ConverseStream(context.Background(), domain.ConverseRequest{
		Turns:       []domain.Turn{{Role: domain.RoleUser, Content: "hi"}},
		System:      "sys",
		Temperature: 0.7,
		MaxTokens:   8192,
	})
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	defer stream.Close()

	if !got.Stream || got.System != "sys" || got.MaxTokens != 8192 || len(got.Messages) != 1 {
		t.Fatalf("unexpected request %+v", got)
	}

	var text strings.Builder
	var stop string
	var usage domain.Usage
	for _, ev := range collect(t, stream) {
		switch ev.Type {
		case domain.StreamDelta:
			text.WriteString(ev.Text)
		case domain.StreamStop:
			stop = ev.StopReason
		case domain.StreamUsage:
			usage = ev.Usage
		}
	}
	if text.String() != "Hello **world**" {
		t.Fatalf("unexpected text %q", text.String())
	}
	if stop != "end_turn" {
		t.Fatalf("unexpected stop reason %q", stop)
	}
	if usage != (domain.Usage{InputTokens: 25, OutputTokens: 15, TotalTokens: 40}) {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestAnthropic_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := a.ConverseStream(context.Background(), domain.ConverseRequest{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestAnthropic_RequiresKey(t *testing.T) {
	a := NewAnthropic(AnthropicConfig{Logger: testLogger()})
	if _, err := a.ConverseStream(context.Background(), domain.ConverseRequest{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestSSEStream_ErrorEvent(t *testing.T) {
	body := "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"
	s := newSSEStream(io.NopCloser(strings.NewReader(body)))
	_, err := s.Next(context.Background())
	if err == nil || !strings.Contains(err.Error(), "overloaded_error") {
		t.Fatalf("expected overloaded error, got %v", err)
	}
}

func TestSSEStream_TruncatedStreamIsAnError(t *testing.T) {
	body := "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n"
	s := newSSEStream(io.NopCloser(strings.NewReader(body)))

	ev, err := s.Next(context.Background())
	if err != nil || ev.Text != "partial" {
		t.Fatalf("expected partial delta, got %+v, %v", ev, err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestSSEStream_EOFAfterMessageStop(t *testing.T) {
	s := newSSEStream(io.NopCloser(strings.NewReader(sseBody)))
	collect(t, s)
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after message_stop, got %v", err)
	}
}
