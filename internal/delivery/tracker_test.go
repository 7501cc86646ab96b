package delivery_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/delivery"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

func newTracker(store *memStore) *delivery.Tracker {
	return &delivery.Tracker{
		Shipments: store,
		Orders:    orderStore{store},
		Log:       zerolog.Nop(),
	}
}

func seedPair(store *memStore, orderStatus repo.OrderStatus, shipmentStatus repo.ShipmentStatus) (repo.Order, repo.Shipment) {
	order := seedOrder(store, orderStatus)
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      order.ID,
		ProviderID:   toPGUUID(uuid.New()),
		ProviderType: courier.TypePathao,
		Status:       shipmentStatus,
	}
	store.addShipment(shipment)
	return order, shipment
}

func TestReconciliationTable(t *testing.T) {
	t.Parallel()

	const noChange = repo.OrderStatus("")
	cases := map[repo.OrderStatus]map[repo.ShipmentStatus]repo.OrderStatus{
		repo.OrderStatusPending: {
			repo.ShipmentStatusPickedUp:  noChange,
			repo.ShipmentStatusInTransit: noChange,
			repo.ShipmentStatusDelivered: repo.OrderStatusDelivered,
			repo.ShipmentStatusReturned:  repo.OrderStatusReturned,
			repo.ShipmentStatusFailed:    noChange,
			repo.ShipmentStatusCancelled: repo.OrderStatusCancelled,
		},
		repo.OrderStatusProcessing: {
			repo.ShipmentStatusPickedUp:  noChange,
			repo.ShipmentStatusInTransit: noChange,
			repo.ShipmentStatusDelivered: repo.OrderStatusDelivered,
			repo.ShipmentStatusReturned:  repo.OrderStatusReturned,
			repo.ShipmentStatusFailed:    repo.OrderStatusConfirmed,
			repo.ShipmentStatusCancelled: repo.OrderStatusCancelled,
		},
		repo.OrderStatusConfirmed: {
			repo.ShipmentStatusPickedUp:  repo.OrderStatusShipped,
			repo.ShipmentStatusInTransit: repo.OrderStatusShipped,
			repo.ShipmentStatusDelivered: repo.OrderStatusDelivered,
			repo.ShipmentStatusReturned:  repo.OrderStatusReturned,
			repo.ShipmentStatusFailed:    noChange,
			repo.ShipmentStatusCancelled: noChange,
		},
		repo.OrderStatusShipped: {
			repo.ShipmentStatusPickedUp:  repo.OrderStatusShipped,
			repo.ShipmentStatusInTransit: repo.OrderStatusShipped,
			repo.ShipmentStatusDelivered: repo.OrderStatusDelivered,
			repo.ShipmentStatusReturned:  repo.OrderStatusReturned,
			repo.ShipmentStatusFailed:    repo.OrderStatusConfirmed,
			repo.ShipmentStatusCancelled: repo.OrderStatusConfirmed,
		},
		repo.OrderStatusDelivered: {
			repo.ShipmentStatusPickedUp:  noChange,
			repo.ShipmentStatusInTransit: noChange,
			repo.ShipmentStatusDelivered: noChange,
			repo.ShipmentStatusReturned:  noChange,
			repo.ShipmentStatusFailed:    noChange,
			repo.ShipmentStatusCancelled: noChange,
		},
		repo.OrderStatusReturned: {
			repo.ShipmentStatusPickedUp:  noChange,
			repo.ShipmentStatusInTransit: noChange,
			repo.ShipmentStatusDelivered: noChange,
			repo.ShipmentStatusReturned:  noChange,
			repo.ShipmentStatusFailed:    noChange,
			repo.ShipmentStatusCancelled: noChange,
		},
		repo.OrderStatusCancelled: {
			repo.ShipmentStatusPickedUp:  noChange,
			repo.ShipmentStatusInTransit: noChange,
			repo.ShipmentStatusDelivered: noChange,
			repo.ShipmentStatusReturned:  noChange,
			repo.ShipmentStatusFailed:    noChange,
			repo.ShipmentStatusCancelled: noChange,
		},
	}

	for orderStatus, triggers := range cases {
		for shipmentStatus, expected := range triggers {
			name := string(orderStatus) + "_" + string(shipmentStatus)
			orderStatus, shipmentStatus, expected := orderStatus, shipmentStatus, expected
			t.Run(name, func(t *testing.T) {
				t.Parallel()

				store := newMemStore()
				order, shipment := seedPair(store, orderStatus, shipmentStatus)
				tracker := newTracker(store)

				// The order status transition can collapse to the current
				// value; picked_up on a shipped order maps to shipped and
				// must be treated as no change.
				wantChange := expected != noChange && expected != orderStatus
				update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, shipmentStatus)
				if wantChange {
					require.NotNil(t, update)
					require.Equal(t, orderStatus, update.PreviousStatus)
					require.Equal(t, expected, update.NewStatus)
					require.Equal(t, expected, store.orderStatus(order.ID))
				} else {
					require.Nil(t, update)
					require.Equal(t, orderStatus, store.orderStatus(order.ID))
				}
			})
		}
	}
}

func TestPendingShipmentStatusNeverMutatesOrder(t *testing.T) {
	t.Parallel()

	for _, orderStatus := range []repo.OrderStatus{
		repo.OrderStatusPending, repo.OrderStatusProcessing, repo.OrderStatusConfirmed,
		repo.OrderStatusShipped, repo.OrderStatusDelivered, repo.OrderStatusReturned,
		repo.OrderStatusCancelled,
	} {
		store := newMemStore()
		order, shipment := seedPair(store, orderStatus, repo.ShipmentStatusPending)
		tracker := newTracker(store)

		update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusPending)
		require.Nil(t, update)
		require.Equal(t, orderStatus, store.orderStatus(order.ID))
	}
}

func TestReconciliationIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order, shipment := seedPair(store, repo.OrderStatusConfirmed, repo.ShipmentStatusPickedUp)
	tracker := newTracker(store)

	first := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusPickedUp)
	require.NotNil(t, first)
	require.Equal(t, repo.OrderStatusShipped, first.NewStatus)

	second := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusPickedUp)
	require.Nil(t, second)
	require.Equal(t, repo.OrderStatusShipped, store.orderStatus(order.ID))
}

func TestHappyPathLifecycle(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order, shipment := seedPair(store, repo.OrderStatusConfirmed, repo.ShipmentStatusPickedUp)
	tracker := newTracker(store)

	update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusPickedUp)
	require.NotNil(t, update)
	require.Equal(t, repo.OrderStatusShipped, store.orderStatus(order.ID))

	setShipmentStatus(store, shipment.ID, repo.ShipmentStatusDelivered)
	update = tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusDelivered)
	require.NotNil(t, update)
	require.Equal(t, repo.OrderStatusDelivered, store.orderStatus(order.ID))

	setShipmentStatus(store, shipment.ID, repo.ShipmentStatusCancelled)
	update = tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusCancelled)
	require.Nil(t, update)
	require.Equal(t, repo.OrderStatusDelivered, store.orderStatus(order.ID))
}

func TestFailedShipmentRollsShippedOrderBack(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order, shipment := seedPair(store, repo.OrderStatusShipped, repo.ShipmentStatusFailed)
	tracker := newTracker(store)

	update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusFailed)
	require.NotNil(t, update)
	require.Equal(t, repo.OrderStatusConfirmed, update.NewStatus)
	require.Equal(t, repo.OrderStatusConfirmed, store.orderStatus(order.ID))
}

func TestStaleShipmentStatusIsDiscarded(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order, shipment := seedPair(store, repo.OrderStatusConfirmed, repo.ShipmentStatusDelivered)
	tracker := newTracker(store)

	// A newer refresh already recorded delivered; the straggling in_transit
	// notification must not touch the order.
	update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatusInTransit)
	require.Nil(t, update)
	require.Equal(t, repo.OrderStatusConfirmed, store.orderStatus(order.ID))
}

func TestReconcileMissingShipmentReturnsNil(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newMemStore())
	update := tracker.UpdateOrderStatusFromShipment(context.Background(), toPGUUID(uuid.New()), repo.ShipmentStatusDelivered)
	require.Nil(t, update)
}

func TestReconcileUnknownStatusReturnsNil(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	_, shipment := seedPair(store, repo.OrderStatusConfirmed, repo.ShipmentStatusPending)
	tracker := newTracker(store)

	update := tracker.UpdateOrderStatusFromShipment(context.Background(), shipment.ID, repo.ShipmentStatus("awaiting_pickup"))
	require.Nil(t, update)
}

func TestNotifyStatusChangeBuildsPayload(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order, shipment := seedPair(store, repo.OrderStatusShipped, repo.ShipmentStatusDelivered)
	tracker := newTracker(store)

	n := tracker.NotifyStatusChange(context.Background(), shipment.ID, repo.ShipmentStatusInTransit, repo.ShipmentStatusDelivered)
	require.NotNil(t, n)
	require.Equal(t, shipment.ID, n.ShipmentID)
	require.Equal(t, order.ID, n.OrderID)
	require.Equal(t, order.CustomerPhone, n.CustomerPhone)
	require.Equal(t, repo.ShipmentStatusInTransit, n.PreviousStatus)
	require.Equal(t, repo.ShipmentStatusDelivered, n.NewStatus)
	require.False(t, n.Timestamp.IsZero())
}

func TestNotifyStatusChangeMissingShipment(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newMemStore())
	n := tracker.NotifyStatusChange(context.Background(), toPGUUID(uuid.New()), repo.ShipmentStatusPending, repo.ShipmentStatusDelivered)
	require.Nil(t, n)
}

func setShipmentStatus(store *memStore, id pgtype.UUID, status repo.ShipmentStatus) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.shipments[uuidFromPG(id).String()].Status = status
}
