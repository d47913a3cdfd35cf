package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/agentloom/internal/types"
)

// header holds the fields shared by every event on the wire.
type header struct {
	Type      Type            `json:"type"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID types.SessionID `json:"sessionId,omitempty"`
}

// MarshalJSON flattens the payload fields next to the header fields.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if e.Payload != nil {
		body, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", e.Type, err)
		}
	}
	head, err := json.Marshal(header{Type: e.Type, Seq: e.Seq, Timestamp: e.Timestamp, SessionID: e.SessionID})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a flat wire event back into header and payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("decode event header: %w", err)
	}
	decode, ok := decoders[h.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %q", h.Type)
	}
	p, err := decode(data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", h.Type, err)
	}
	*e = Event{Type: h.Type, Seq: h.Seq, Timestamp: h.Timestamp, SessionID: h.SessionID, Payload: p}
	return nil
}
