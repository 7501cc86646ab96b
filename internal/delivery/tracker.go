package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dokan/internal/events"
	"github.com/noah-isme/backend-dokan/internal/obs"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

type shipmentReader interface {
	Get(ctx context.Context, id pgtype.UUID) (repo.Shipment, error)
}

type orderReconciler interface {
	Get(ctx context.Context, id pgtype.UUID) (repo.Order, error)
	UpdateStatusIfCurrent(ctx context.Context, arg repo.UpdateStatusIfCurrentParams) (pgtype.UUID, error)
}

// Tracker reconciles shipment status changes into the order lifecycle. It
// runs as a side effect of status polling, so every failure path resolves to
// a nil result plus a log line instead of an error.
type Tracker struct {
	Shipments shipmentReader
	Orders    orderReconciler
	Events    *events.Bus
	Log       zerolog.Logger
}

// OrderStatusUpdate describes an applied order transition.
type OrderStatusUpdate struct {
	OrderID        pgtype.UUID      `json:"orderId"`
	PreviousStatus repo.OrderStatus `json:"previousStatus"`
	NewStatus      repo.OrderStatus `json:"newStatus"`
}

// UpdateOrderStatusFromShipment derives the order's next status from the
// shipment event and applies it. Nil means no change: an unmapped pair, a
// terminal order, a repeated notification, or a refresh that lost a race all
// land here. The write is guarded twice: the shipment must still hold the
// status being reconciled, and the order must still hold the status the
// target was computed from.
func (t *Tracker) UpdateOrderStatusFromShipment(ctx context.Context, shipmentID pgtype.UUID, newStatus repo.ShipmentStatus) *OrderStatusUpdate {
	log := t.Log.With().
		Str("shipment_id", uuidString(shipmentID)).
		Str("shipment_status", string(newStatus)).
		Logger()

	if !repo.ValidShipmentStatus(newStatus) {
		log.Warn().Msg("reconcile: unknown shipment status")
		obs.ReconcileTotal.WithLabelValues("invalid_status").Inc()
		return nil
	}

	shipment, err := t.Shipments.Get(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Msg("reconcile: shipment missing")
		} else {
			log.Error().Err(err).Msg("reconcile: load shipment")
		}
		obs.ReconcileTotal.WithLabelValues("shipment_missing").Inc()
		return nil
	}
	if shipment.Status != newStatus {
		// A newer refresh already moved the shipment on. Acting on the old
		// status here would apply transitions out of order.
		log.Debug().Str("current_status", string(shipment.Status)).Msg("reconcile: stale shipment status, skipping")
		obs.ReconcileTotal.WithLabelValues("stale").Inc()
		return nil
	}

	order, err := t.Orders.Get(ctx, shipment.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Str("order_id", uuidString(shipment.OrderID)).Msg("reconcile: order missing")
		} else {
			log.Error().Err(err).Msg("reconcile: load order")
		}
		obs.ReconcileTotal.WithLabelValues("order_missing").Inc()
		return nil
	}

	target := nextOrderStatus(order.Status, newStatus)
	if target == order.Status {
		obs.ReconcileTotal.WithLabelValues("noop").Inc()
		return nil
	}

	if _, err := t.Orders.UpdateStatusIfCurrent(ctx, repo.UpdateStatusIfCurrentParams{
		ID:   order.ID,
		From: order.Status,
		To:   target,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug().Str("order_id", uuidString(order.ID)).Msg("reconcile: order moved concurrently, skipping")
			obs.ReconcileTotal.WithLabelValues("lost_race").Inc()
		} else {
			log.Error().Err(err).Str("order_id", uuidString(order.ID)).Msg("reconcile: update order status")
			obs.ReconcileTotal.WithLabelValues("error").Inc()
		}
		return nil
	}

	log.Info().
		Str("order_id", uuidString(order.ID)).
		Str("from", string(order.Status)).
		Str("to", string(target)).
		Msg("order status reconciled from shipment")
	obs.ReconcileTotal.WithLabelValues("applied").Inc()

	update := &OrderStatusUpdate{
		OrderID:        order.ID,
		PreviousStatus: order.Status,
		NewStatus:      target,
	}
	if t.Events != nil {
		payload := map[string]any{
			"orderId":        uuidString(order.ID),
			"shipmentId":     uuidString(shipment.ID),
			"previousStatus": string(order.Status),
			"newStatus":      string(target),
			"customerEmail":  order.CustomerEmail.String,
		}
		if _, err := t.Events.Emit(ctx, events.TopicOrderStatusChanged, order.ID, payload); err != nil {
			log.Warn().Err(err).Msg("emit order status changed event")
		}
	}
	return update
}

// Notification is the payload handed to external notifiers after a shipment
// status change.
type Notification struct {
	ShipmentID     pgtype.UUID         `json:"shipmentId"`
	OrderID        pgtype.UUID         `json:"orderId"`
	CustomerPhone  string              `json:"customerPhone"`
	CustomerEmail  string              `json:"customerEmail"`
	PreviousStatus repo.ShipmentStatus `json:"previousStatus"`
	NewStatus      repo.ShipmentStatus `json:"newStatus"`
	Timestamp      time.Time           `json:"timestamp"`
}

// NotifyStatusChange builds the notification payload for a shipment status
// change and, when an event bus is wired, publishes it. Nil is returned when
// the shipment or order cannot be loaded.
func (t *Tracker) NotifyStatusChange(ctx context.Context, shipmentID pgtype.UUID, previous, current repo.ShipmentStatus) *Notification {
	shipment, err := t.Shipments.Get(ctx, shipmentID)
	if err != nil {
		t.Log.Warn().Err(err).Str("shipment_id", uuidString(shipmentID)).Msg("notify: load shipment")
		return nil
	}
	order, err := t.Orders.Get(ctx, shipment.OrderID)
	if err != nil {
		t.Log.Warn().Err(err).Str("order_id", uuidString(shipment.OrderID)).Msg("notify: load order")
		return nil
	}
	n := &Notification{
		ShipmentID:     shipment.ID,
		OrderID:        order.ID,
		CustomerPhone:  order.CustomerPhone,
		CustomerEmail:  order.CustomerEmail.String,
		PreviousStatus: previous,
		NewStatus:      current,
		Timestamp:      time.Now().UTC(),
	}
	if t.Events != nil {
		payload := map[string]any{
			"shipmentId":     uuidString(n.ShipmentID),
			"orderId":        uuidString(n.OrderID),
			"customerPhone":  n.CustomerPhone,
			"customerEmail":  n.CustomerEmail,
			"previousStatus": string(previous),
			"newStatus":      string(current),
			"timestamp":      n.Timestamp.Format(time.RFC3339),
		}
		if _, err := t.Events.Emit(ctx, events.TopicShipmentStatusChanged, shipment.ID, payload); err != nil {
			t.Log.Warn().Err(err).Str("shipment_id", uuidString(shipment.ID)).Msg("emit shipment status changed event")
		}
	}
	return n
}

// nextOrderStatus encodes the reconciliation transition table. Courier
// pickup and transit sub-states collapse to shipped; failed rolls the order
// back to confirmed only from processing or shipped, never forward; a
// cancelled shipment cancels a pre-shipment order but only rewinds a shipped
// one. Delivered, returned and cancelled orders never move again.
func nextOrderStatus(current repo.OrderStatus, event repo.ShipmentStatus) repo.OrderStatus {
	switch current {
	case repo.OrderStatusDelivered, repo.OrderStatusReturned, repo.OrderStatusCancelled:
		return current
	}
	switch event {
	case repo.ShipmentStatusPickedUp, repo.ShipmentStatusInTransit:
		if current == repo.OrderStatusConfirmed || current == repo.OrderStatusShipped {
			return repo.OrderStatusShipped
		}
	case repo.ShipmentStatusDelivered:
		return repo.OrderStatusDelivered
	case repo.ShipmentStatusReturned:
		return repo.OrderStatusReturned
	case repo.ShipmentStatusFailed:
		if current == repo.OrderStatusProcessing || current == repo.OrderStatusShipped {
			return repo.OrderStatusConfirmed
		}
	case repo.ShipmentStatusCancelled:
		switch current {
		case repo.OrderStatusPending, repo.OrderStatusProcessing:
			return repo.OrderStatusCancelled
		case repo.OrderStatusShipped:
			return repo.OrderStatusConfirmed
		}
	}
	return current
}
