package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks stream entries that cannot be decoded into a valid envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope represents the canonical message wrapper persisted to Redis Streams.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present before schema validation.
func (e *Envelope) ValidateBasic() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrMalformed)
	case e.EventType == "":
		return fmt.Errorf("%w: event_type is required", ErrMalformed)
	case e.PayloadVersion == "":
		return fmt.Errorf("%w: payload_version is required", ErrMalformed)
	case e.Attempt < 0:
		return fmt.Errorf("%w: attempt must be >= 0", ErrMalformed)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: data payload is required", ErrMalformed)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeData unmarshals the payload into v.
func (e Envelope) DecodeData(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformed, e.EventType, err)
	}
	return nil
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
