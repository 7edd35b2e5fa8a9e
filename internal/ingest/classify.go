// Package ingest classifies inbound webhook deliveries, answers the ones that
// must be answered inline and defers everything else to a durable queue.
package ingest

import (
	"encoding/json"

	"slackstream/internal/domain"
)

const sqsEventSource = "aws:sqs"

type rawRecord struct {
	EventSource string `json:"eventSource"`
}

// Classify determines the transport shape of an envelope. It never fails:
// anything it does not recognize is domain.KindUnknown.
func Classify(raw domain.Envelope) domain.EnvelopeKind {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return domain.KindUnknown
	}

	if recs, ok := top["Records"]; ok {
		var records []rawRecord
		if json.Unmarshal(recs, &records) == nil && len(records) > 0 && records[0].EventSource == sqsEventSource {
			return domain.KindBatch
		}
	}

	rcRaw, ok := top["requestContext"]
	if !ok {
		return domain.KindUnknown
	}
	var rc map[string]json.RawMessage
	if err := json.Unmarshal(rcRaw, &rc); err != nil {
		return domain.KindUnknown
	}

	_, hasHTTP := rc["http"]
	switch {
	case hasHTTP && nonEmptyString(rc["domainName"]):
		return domain.KindFunctionURL
	case hasHTTP:
		return domain.KindGatewayV2
	}
	if _, ok := rc["httpMethod"]; ok {
		return domain.KindGatewayV1
	}
	if _, ok := top["httpMethod"]; ok {
		return domain.KindGatewayV1
	}
	return domain.KindUnknown
}

// RequestMethod returns the HTTP method recorded in an HTTP-shaped envelope,
// or "" when there is none.
func RequestMethod(raw domain.Envelope) string {
	var probe struct {
		HTTPMethod     string `json:"httpMethod"`
		RequestContext struct {
			HTTP struct {
				Method string `json:"method"`
			} `json:"http"`
			HTTPMethod string `json:"httpMethod"`
		} `json:"requestContext"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	switch {
	case probe.RequestContext.HTTP.Method != "":
		return probe.RequestContext.HTTP.Method
	case probe.RequestContext.HTTPMethod != "":
		return probe.RequestContext.HTTPMethod
	default:
		return probe.HTTPMethod
	}
}

func nonEmptyString(v json.RawMessage) bool {
	if len(v) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return false
	}
	return s != ""
}
