package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subjects the settlement service consumes and publishes
const (
	SubjectRideCompleted = "rides.completed"
	SubjectRideCancelled = "rides.cancelled"

	SubjectPaymentCompleted = "payments.completed"
	SubjectPaymentFailed    = "payments.failed"
	SubjectPaymentTimeout   = "payments.timeout"

	SubjectEscrowHeld     = "escrow.held"
	SubjectEscrowReleased = "escrow.released"
	SubjectEscrowRefunded = "escrow.refunded"
	SubjectEscrowDisputed = "escrow.disputed"
)

// Event is the envelope every message on the bus carries
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with a fresh ID, which also serves as the JetStream
// dedup ID when published
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// HandlerFunc handles one delivered event. nil acks it, a Permanent error terminates it and
// any other error schedules a redelivery.
type HandlerFunc func(ctx context.Context, event *Event) error

// Publisher is the publishing side of the bus
type Publisher interface {
	Publish(ctx context.Context, subject string, event *Event) error
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks a handler failure redelivery cannot fix
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
