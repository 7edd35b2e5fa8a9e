package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/slack-go/slack/slackevents"

	"slackstream/internal/domain"
)

// NoRetryHeader tells the platform not to redeliver a request.
const NoRetryHeader = "x-slack-no-retry"

// Request is the transport-independent view of an HTTP-shaped envelope.
type Request struct {
	Kind    domain.EnvelopeKind
	Method  string
	Headers map[string]string // keys lower-cased
	Body    string
}

// Header returns a header value, ignoring case.
func (r Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ParseRequest decodes an envelope with the accessor for its classified shape.
func ParseRequest(raw domain.Envelope) (Request, error) {
	kind := Classify(raw)
	req := Request{Kind: kind}
	var (
		headers map[string]string
		body    string
		b64     bool
	)
	switch kind {
	case domain.KindFunctionURL:
		var ev events.LambdaFunctionURLRequest
		if err := json.Unmarshal(raw, &ev); err != nil {
			return req, fmt.Errorf("decode function url event: %w", err)
		}
		headers, body, b64 = ev.Headers, ev.Body, ev.IsBase64Encoded
		req.Method = ev.RequestContext.HTTP.Method
	case domain.KindGatewayV2:
		var ev events.APIGatewayV2HTTPRequest
		if err := json.Unmarshal(raw, &ev); err != nil {
			return req, fmt.Errorf("decode api gateway v2 event: %w", err)
		}
		headers, body, b64 = ev.Headers, ev.Body, ev.IsBase64Encoded
		req.Method = ev.RequestContext.HTTP.Method
	case domain.KindGatewayV1:
		var ev events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &ev); err != nil {
			return req, fmt.Errorf("decode api gateway v1 event: %w", err)
		}
		headers, body, b64 = ev.Headers, ev.Body, ev.IsBase64Encoded
		req.Method = ev.HTTPMethod
		if req.Method == "" {
			req.Method = ev.RequestContext.HTTPMethod
		}
	default:
		return req, domain.ErrUnknownEnvelope
	}

	req.Headers = make(map[string]string, len(headers))
	for k, v := range headers {
		req.Headers[strings.ToLower(k)] = v
	}
	if b64 {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return req, fmt.Errorf("decode base64 body: %w", err)
		}
		body = string(decoded)
	}
	req.Body = body
	return req, nil
}

// TryParseHandshake reports whether body is a URL verification request and
// returns its challenge. A body that is not JSON is simply not a handshake.
func TryParseHandshake(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return "", false
	}
	if probe.Type != slackevents.URLVerification {
		return "", false
	}
	return probe.Challenge, true
}

// Response is valid for function URLs and both API Gateway payload versions.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// OK is an empty acknowledgment.
func OK() Response { return Response{StatusCode: 200} }

// HandshakeResponse echoes a verification challenge.
func HandshakeResponse(challenge string) Response {
	return Response{
		StatusCode: 200,
		Headers:    map[string]string{NoRetryHeader: "1"},
		Body:       challenge,
	}
}

// UnknownResponse answers envelopes that cannot be classified.
func UnknownResponse() Response {
	return Response{StatusCode: 400, Body: "Unknown event type"}
}
