package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/lock"
	"github.com/noah-isme/backend-dokan/internal/obs"
	"github.com/noah-isme/backend-dokan/internal/queue"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

// RefreshTaskKind is the queue kind for background shipment status refresh.
const RefreshTaskKind = "shipment:refresh"

type refreshPayload struct {
	ShipmentID string `json:"shipmentId"`
	OrderID    string `json:"orderId"`
}

// Refresher executes queued status refresh tasks. The per-order lock
// serialises refreshes of sibling shipments so their order writes cannot
// interleave with each other or with webhook pushes handled elsewhere.
type Refresher struct {
	Svc     *Service
	Tracker *Tracker
	Locker  lock.Locker
	LockTTL time.Duration
	Log     zerolog.Logger
}

// Handle processes one refresh task. Errors are returned only when a retry
// could plausibly succeed; everything else is dropped with a counter bump so
// poison tasks cannot wedge the queue.
func (rf Refresher) Handle(ctx context.Context, payload []byte) error {
	var task refreshPayload
	if err := json.Unmarshal(payload, &task); err != nil {
		obs.RefreshTasksTotal.WithLabelValues("bad_payload").Inc()
		rf.Log.Error().Err(err).Msg("undecodable refresh task dropped")
		return nil
	}
	shipmentID, err := parseUUID(task.ShipmentID)
	if err != nil {
		obs.RefreshTasksTotal.WithLabelValues("bad_payload").Inc()
		rf.Log.Error().Str("shipment_id", task.ShipmentID).Msg("refresh task with invalid shipment id dropped")
		return nil
	}

	return rf.Locker.WithLock(ctx, lock.OrderKey(task.OrderID), rf.LockTTL, func(ctx context.Context) error {
		result, err := rf.Svc.CheckShipmentStatus(ctx, shipmentID)
		switch {
		case errors.Is(err, ErrShipmentNotFound):
			obs.RefreshTasksTotal.WithLabelValues("gone").Inc()
			return nil
		case err != nil && courier.IsTransient(err):
			obs.RefreshTasksTotal.WithLabelValues("retry").Inc()
			return err
		case err != nil:
			obs.RefreshTasksTotal.WithLabelValues("error").Inc()
			rf.Log.Error().Err(err).Str("shipment_id", task.ShipmentID).Msg("refresh task failed permanently")
			return nil
		}

		if result.StatusChanged {
			rf.Tracker.UpdateOrderStatusFromShipment(ctx, shipmentID, result.Shipment.Status)
			rf.Tracker.NotifyStatusChange(ctx, shipmentID, result.PreviousStatus, result.Shipment.Status)
			obs.RefreshTasksTotal.WithLabelValues("changed").Inc()
			return nil
		}
		obs.RefreshTasksTotal.WithLabelValues("unchanged").Inc()
		return nil
	})
}

type dueLister interface {
	ListDueForCheck(ctx context.Context, olderThan time.Time, limit int32) ([]repo.Shipment, error)
}

// Scanner periodically enqueues refresh tasks for courier-backed shipments
// whose last check is older than OlderThan. Deduplication on the shipment id
// keeps overlapping scans from double-enqueueing.
type Scanner struct {
	Shipments dueLister
	Queue     queue.Enqueuer
	Interval  time.Duration
	OlderThan time.Duration
	Batch     int32
	Log       zerolog.Logger
}

// Run scans on a fixed interval until the context is cancelled.
func (s Scanner) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s Scanner) scanOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.OlderThan)
	due, err := s.Shipments.ListDueForCheck(ctx, cutoff, s.Batch)
	if err != nil {
		s.Log.Error().Err(err).Msg("list shipments due for refresh")
		return
	}
	enqueued := 0
	for _, shipment := range due {
		payload, err := json.Marshal(refreshPayload{
			ShipmentID: uuidString(shipment.ID),
			OrderID:    uuidString(shipment.OrderID),
		})
		if err != nil {
			continue
		}
		err = s.Queue.Enqueue(ctx, queue.Task{
			Kind:           RefreshTaskKind,
			Payload:        payload,
			IdempotencyKey: uuidString(shipment.ID),
		})
		if err != nil {
			s.Log.Error().Err(err).Str("shipment_id", uuidString(shipment.ID)).Msg("enqueue refresh task")
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.Log.Info().Int("enqueued", enqueued).Int("due", len(due)).Msg("scheduled shipment refreshes")
	}
}
