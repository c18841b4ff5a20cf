package observability

// EventEnvelope is the wire shape shared by everything the core publishes:
// appended messages, status changes, typing signals, websocket lifecycle
// records and audit entries.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Broker header keys correlating an event with the request that produced it.
const (
	headerKeyRequestID = "x-request-id"
	headerKeyTraceID   = "trace_id"
)

// BuildHeaders assembles the correlation headers for a published event.
// Empty values are dropped; nil means there is nothing to correlate.
func BuildHeaders(requestID, traceID string) map[string]string {
	if requestID == "" && traceID == "" {
		return nil
	}
	headers := make(map[string]string, 2)
	if requestID != "" {
		headers[headerKeyRequestID] = requestID
	}
	if traceID != "" {
		headers[headerKeyTraceID] = traceID
	}
	return headers
}
