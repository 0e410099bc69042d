package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

// BookingSettler is the part of the payments service ride events drive
type BookingSettler interface {
	ReleaseBooking(ctx context.Context, bookingID uuid.UUID, actor string) (*escrow.Transition, error)
	RefundBooking(ctx context.Context, bookingID uuid.UUID, actor, reason string) (*escrow.Transition, error)
}

// Subscriber registers durable event consumers
type Subscriber interface {
	Subscribe(ctx context.Context, subject, consumerName string, handler eventbus.HandlerFunc) error
}

// EventHandler settles escrows from ride lifecycle events
type EventHandler struct {
	service BookingSettler
}

// NewEventHandler creates an event handler backed by the payment service.
func NewEventHandler(service BookingSettler) *EventHandler {
	return &EventHandler{service: service}
}

// RegisterSubscriptions subscribes to ride completion and cancellation events on the bus.
func (h *EventHandler) RegisterSubscriptions(ctx context.Context, bus Subscriber) error {
	if err := bus.Subscribe(ctx, eventbus.SubjectRideCompleted, "settlement-rides-completed", h.handleRideCompleted); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventbus.SubjectRideCompleted, err)
	}
	if err := bus.Subscribe(ctx, eventbus.SubjectRideCancelled, "settlement-rides-cancelled", h.handleRideCancelled); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventbus.SubjectRideCancelled, err)
	}
	logger.Info("payments: subscribed to ride lifecycle events")
	return nil
}

func (h *EventHandler) handleRideCompleted(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.RideCompletedData
	if err := event.Decode(&data); err != nil {
		return eventbus.Permanent(err)
	}
	if data.RideID == uuid.Nil {
		return eventbus.Permanent(fmt.Errorf("ride completed event %s has no ride id", event.ID))
	}

	_, err := h.service.ReleaseBooking(ctx, data.RideID, escrow.ActorRides)
	if err != nil {
		return settleOutcome(ctx, "release", data.RideID, err)
	}

	logger.InfoContext(ctx, "payments: escrow released for completed ride",
		zap.String("ride_id", data.RideID.String()),
		zap.String("driver_id", data.DriverID.String()),
	)
	return nil
}

func (h *EventHandler) handleRideCancelled(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.RideCancelledData
	if err := event.Decode(&data); err != nil {
		return eventbus.Permanent(err)
	}
	if data.RideID == uuid.Nil {
		return eventbus.Permanent(fmt.Errorf("ride cancelled event %s has no ride id", event.ID))
	}

	reason := data.Reason
	if reason == "" {
		reason = "ride cancelled by " + data.CancelledBy
	}

	_, err := h.service.RefundBooking(ctx, data.RideID, escrow.ActorRides, reason)
	if err != nil {
		return settleOutcome(ctx, "refund", data.RideID, err)
	}

	logger.InfoContext(ctx, "payments: escrow refunded for cancelled ride",
		zap.String("ride_id", data.RideID.String()),
		zap.String("cancelled_by", data.CancelledBy),
	)
	return nil
}

// settleOutcome decides whether a failed settlement is redelivered. Rides this service never
// took payment for and rides already settled are terminated, anything else is retried.
func settleOutcome(ctx context.Context, action string, rideID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		logger.WarnContext(ctx, "payments: ride has no escrow account",
			zap.String("ride_id", rideID.String()),
			zap.String("action", action),
		)
		return eventbus.Permanent(err)
	case errors.Is(err, common.ErrInvalidStateTransition):
		return eventbus.Permanent(err)
	default:
		logger.ErrorContext(ctx, "payments: failed to settle ride escrow",
			zap.String("ride_id", rideID.String()),
			zap.String("action", action),
			zap.Error(err),
		)
		return fmt.Errorf("%s escrow for ride %s: %w", action, rideID, err)
	}
}
