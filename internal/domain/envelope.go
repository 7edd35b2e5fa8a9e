package domain

import (
	"encoding/json"
	"errors"
)

// Envelope is the raw inbound delivery exactly as the transport handed it over.
// It is never re-encoded: the bytes that arrive are the bytes that get queued.
type Envelope = json.RawMessage

// EnvelopeKind is the transport shape of an inbound delivery.
type EnvelopeKind int

const (
	KindUnknown EnvelopeKind = iota
	KindFunctionURL
	KindGatewayV1
	KindGatewayV2
	KindBatch
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindFunctionURL:
		return "function_url"
	case KindGatewayV1:
		return "api_gateway_v1"
	case KindGatewayV2:
		return "api_gateway_v2"
	case KindBatch:
		return "batch_item"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownEnvelope  = errors.New("unknown event type")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrNotInChannel     = errors.New("not_in_channel")
	ErrStreamClosed     = errors.New("stream is closed")
	ErrDuplicateEvent   = errors.New("event already processed")
)
