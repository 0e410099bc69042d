package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// NewEvent
// ---------------------------------------------------------------------------

func TestNewEvent_Success(t *testing.T) {
	data := map[string]string{"booking_id": "abc"}

	event, err := NewEvent(SubjectEscrowHeld, "settlement", data)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, SubjectEscrowHeld, event.Type)
	assert.Equal(t, "settlement", event.Source)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, time.UTC, event.Timestamp.Location())

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, "abc", decoded["booking_id"])
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	_, err := NewEvent("test.event", "test", make(chan int))
	assert.Error(t, err)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test.event", "test", i)
		require.NoError(t, err)
		_, dup := seen[event.ID]
		require.False(t, dup)
		seen[event.ID] = struct{}{}
	}
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestEvent_Decode_RideCompleted(t *testing.T) {
	data := RideCompletedData{
		RideID:      uuid.New(),
		RiderID:     uuid.New(),
		DriverID:    uuid.New(),
		DistanceKm:  6.4,
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	event, err := NewEvent(SubjectRideCompleted, "ride-service", data)
	require.NoError(t, err)

	var decoded RideCompletedData
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, data.RideID, decoded.RideID)
	assert.Equal(t, data.DriverID, decoded.DriverID)
	assert.True(t, data.CompletedAt.Equal(decoded.CompletedAt))
}

func TestEvent_Decode_Errors(t *testing.T) {
	empty := &Event{ID: "e1", Type: SubjectRideCancelled}
	var out RideCancelledData
	assert.Error(t, empty.Decode(&out))

	malformed := &Event{ID: "e2", Type: SubjectRideCancelled, Data: json.RawMessage(`{"ride_id": 12}`)}
	assert.Error(t, malformed.Decode(&out))
}

func TestPaymentEventData_OmitsEmptyOptionalFields(t *testing.T) {
	data := PaymentEventData{
		TransactionID: uuid.New(),
		Type:          "payout",
		Status:        "timeout",
		Amount:        1000,
		Currency:      "KES",
		Attempts:      12,
		OccurredAt:    time.Now().UTC(),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "booking_id")
	assert.NotContains(t, string(b), "receipt_number")
	assert.Contains(t, string(b), `"attempts":12`)
}

// ---------------------------------------------------------------------------
// Permanent errors
// ---------------------------------------------------------------------------

func TestPermanent(t *testing.T) {
	base := errors.New("malformed payload")

	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	wrapped := Permanent(base)
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.True(t, IsPermanent(fmt.Errorf("handler: %w", wrapped)))
}

// ---------------------------------------------------------------------------
// Config and Bus
// ---------------------------------------------------------------------------

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.NATSConfig{URL: "nats://nats:4222", MaxDeliver: 8}, "settlement-service")

	assert.Equal(t, "nats://nats:4222", cfg.URL)
	assert.Equal(t, "settlement-service", cfg.Name)
	assert.Equal(t, "SETTLEMENT", cfg.StreamName)
	assert.Equal(t, 8, cfg.MaxDeliver)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Equal(t, "SETTLEMENT", Config{}.stream())
}

func TestBus_Connected_NilConn(t *testing.T) {
	bus := &Bus{}
	assert.False(t, bus.Connected())

	var nilBus *Bus
	assert.False(t, nilBus.Connected())
}

func TestBus_Publish_NotConnected(t *testing.T) {
	bus := &Bus{}
	event, err := NewEvent(SubjectPaymentTimeout, "settlement", nil)
	require.NoError(t, err)

	assert.Error(t, bus.Publish(context.Background(), SubjectPaymentTimeout, event))
}

func TestBus_Close_NoSubs(t *testing.T) {
	bus := &Bus{}
	bus.Close()
}

// ---------------------------------------------------------------------------
// dispatch
// ---------------------------------------------------------------------------

type fakeMsg struct {
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	nakDelay  time.Duration
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Subject() string      { return SubjectRideCompleted }
func (m *fakeMsg) Headers() nats.Header { return nats.Header{} }
func (m *fakeMsg) Ack() error           { m.acked = true; return nil }
func (m *fakeMsg) Term() error          { m.termed = true; return nil }

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.nakDelay = d
	return nil
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func rideCompletedMsg(t *testing.T, delivered uint64) *fakeMsg {
	t.Helper()
	event, err := NewEvent(SubjectRideCompleted, "ride-service", RideCompletedData{RideID: uuid.New()})
	require.NoError(t, err)
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &fakeMsg{data: data, delivered: delivered}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name      string
		delivered uint64
		err       error
		want      outcome
		wantDelay time.Duration
	}{
		{name: "handled", delivered: 1, want: outcomeAck},
		{name: "permanent failure", delivered: 1, err: Permanent(errors.New("no escrow")), want: outcomeTerm},
		{name: "first transient failure", delivered: 1, err: errors.New("db down"), want: outcomeRetry, wantDelay: 2 * time.Second},
		{name: "third transient failure", delivered: 3, err: errors.New("db down"), want: outcomeRetry, wantDelay: 8 * time.Second},
		{name: "delay is capped", delivered: 9, err: errors.New("db down"), want: outcomeRetry, wantDelay: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			msg := rideCompletedMsg(t, tt.delivered)

			// Act
			got := dispatch(context.Background(), msg, func(ctx context.Context, event *Event) error {
				var data RideCompletedData
				require.NoError(t, event.Decode(&data))
				return tt.err
			})

			// Assert
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == outcomeAck, msg.acked)
			assert.Equal(t, tt.want == outcomeTerm, msg.termed)
			assert.Equal(t, tt.wantDelay, msg.nakDelay)
		})
	}
}

func TestDispatch_MalformedEnvelopeIsTerminated(t *testing.T) {
	msg := &fakeMsg{data: []byte("{not json")}

	got := dispatch(context.Background(), msg, func(context.Context, *Event) error {
		t.Fatal("handler must not run")
		return nil
	})

	assert.Equal(t, outcomeTerm, got)
	assert.True(t, msg.termed)
}
