package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"slackstream/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func functionURLEvent(body string) domain.Envelope {
	return mustJSON(map[string]any{
		"version": "2.0",
		"headers": map[string]string{"Content-Type": "application/json", "X-Slack-Signature": "v0=abc"},
		"requestContext": map[string]any{
			"domainName": "abc.lambda-url.us-east-1.on.aws",
			"http":       map[string]any{"method": "POST", "path": "/"},
		},
		"body":            body,
		"isBase64Encoded": false,
	})
}

func gatewayV2Event(body string) domain.Envelope {
	return mustJSON(map[string]any{
		"version": "2.0",
		"headers": map[string]string{"content-type": "application/json"},
		"requestContext": map[string]any{
			"http": map[string]any{"method": "POST", "path": "/slack/events"},
		},
		"body":            base64.StdEncoding.EncodeToString([]byte(body)),
		"isBase64Encoded": true,
	})
}

func gatewayV1Event(body string) domain.Envelope {
	return mustJSON(map[string]any{
		"resource":       "/slack/events",
		"httpMethod":     "POST",
		"headers":        map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		"requestContext": map[string]any{"httpMethod": "POST", "stage": "prod"},
		"body":           body,
	})
}

func mustJSON(v any) domain.Envelope {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type fakeQueue struct {
	mu      sync.Mutex
	ordered bool
	err     error
	sent    []domain.QueuedMessage
}

func (q *fakeQueue) Enqueue(_ context.Context, msg domain.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func (q *fakeQueue) Ordered() bool { return q.ordered }

type fakeProcessor struct {
	mu    sync.Mutex
	calls []domain.Envelope
	fn    func(raw domain.Envelope) (Response, error)
}

func (p *fakeProcessor) Process(_ context.Context, raw domain.Envelope) (Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, raw)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(raw)
	}
	return OK(), nil
}

var errBoom = errors.New("boom")

func sqsRecordBody(i int) string {
	return string(functionURLEvent(fmt.Sprintf(`{"type":"event_callback","event_id":"Ev%d"}`, i)))
}
