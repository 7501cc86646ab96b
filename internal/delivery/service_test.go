package delivery_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/delivery"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

func newService(store *memStore, factory *fakeFactory) *delivery.Service {
	return &delivery.Service{
		Shipments: store,
		Orders:    orderStore{store},
		Providers: providerStore{store},
		Factory:   factory,
		Log:       zerolog.Nop(),
	}
}

func seedOrder(store *memStore, status repo.OrderStatus) repo.Order {
	order := repo.Order{
		ID:             toPGUUID(uuid.New()),
		Status:         status,
		CustomerName:   "Rahim Uddin",
		CustomerPhone:  "01711111111",
		Address:        "House 7, Road 3, Dhanmondi",
		TotalAmount:    1000,
		ShippingCharge: 60,
		DiscountAmount: 100,
	}
	store.addOrder(order)
	return order
}

func seedProvider(store *memStore, providerType string) repo.Provider {
	p := repo.Provider{
		ID:       toPGUUID(uuid.New()),
		Name:     "Pathao Courier",
		Type:     providerType,
		IsActive: true,
	}
	store.addProvider(p)
	return p
}

func TestCreateShipmentDefaultsCODAmount(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	provider := seedProvider(store, courier.TypePathao)
	adapter := &fakeAdapter{}
	svc := newService(store, &fakeFactory{adapter: adapter})

	shipment, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		ProviderID: provider.ID,
	})
	require.NoError(t, err)
	require.EqualValues(t, 960, shipment.CODAmount)
	require.EqualValues(t, 960, adapter.lastCreate.CODAmount)
	require.Equal(t, repo.ShipmentStatusPending, shipment.Status)
	require.Equal(t, "TRK-1", shipment.TrackingID.String)
	require.Equal(t, "EXT-1", shipment.ExternalID.String)
	require.Equal(t, courier.TypePathao, shipment.ProviderType)
}

func TestCreateShipmentHonoursExplicitCOD(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	provider := seedProvider(store, courier.TypePathao)
	adapter := &fakeAdapter{}
	svc := newService(store, &fakeFactory{adapter: adapter})

	cod := int64(500)
	shipment, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		ProviderID: provider.ID,
		CODAmount:  &cod,
	})
	require.NoError(t, err)
	require.EqualValues(t, 500, shipment.CODAmount)
	require.EqualValues(t, 500, adapter.lastCreate.CODAmount)
}

func TestCreateShipmentSurfacesCourierRejection(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	provider := seedProvider(store, courier.TypePathao)
	adapter := &fakeAdapter{createErr: &courier.RejectionError{ProviderType: courier.TypePathao, Message: "delivery area not covered"}}
	svc := newService(store, &fakeFactory{adapter: adapter})

	_, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		ProviderID: provider.ID,
	})
	require.Error(t, err)
	require.True(t, courier.IsRejection(err))
	require.Contains(t, err.Error(), "delivery area not covered")
	require.Empty(t, store.shipments)
}

func TestCreateShipmentManualSkipsCourier(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	factory := &fakeFactory{adapter: &fakeAdapter{}}
	svc := newService(store, factory)

	shipment, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		TrackingID: "MANUAL-9",
	})
	require.NoError(t, err)
	require.Zero(t, factory.calls)
	require.Equal(t, courier.TypeManual, shipment.ProviderType)
	require.False(t, shipment.ProviderID.Valid)
	require.Equal(t, "MANUAL-9", shipment.TrackingID.String)
	require.EqualValues(t, 960, shipment.CODAmount)
}

func TestCreateShipmentLogsOrphanedRemoteShipment(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	provider := seedProvider(store, courier.TypePathao)
	store.createErr = errors.New("connection refused")
	adapter := &fakeAdapter{createResult: courier.CreateResult{TrackingID: "TRK-ORPHAN", ExternalID: "EXT-9"}}

	var buf bytes.Buffer
	svc := newService(store, &fakeFactory{adapter: adapter})
	svc.Log = zerolog.New(&buf)

	_, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		ProviderID: provider.ID,
	})
	require.Error(t, err)
	require.Contains(t, buf.String(), "orphaned remote shipment")
	require.Contains(t, buf.String(), "TRK-ORPHAN")
}

func TestCreateShipmentUnknownOrder(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := newService(store, &fakeFactory{adapter: &fakeAdapter{}})

	_, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID: toPGUUID(uuid.New()),
	})
	require.ErrorIs(t, err, delivery.ErrOrderNotFound)
}

func TestCreateShipmentInactiveProvider(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	provider := seedProvider(store, courier.TypePathao)
	store.providers[uuidFromPG(provider.ID).String()].IsActive = false
	svc := newService(store, &fakeFactory{adapter: &fakeAdapter{}})

	_, err := svc.CreateShipment(context.Background(), delivery.CreateShipmentArgs{
		OrderID:    order.ID,
		ProviderID: provider.ID,
	})
	require.ErrorIs(t, err, delivery.ErrProviderInactive)
}

func TestCheckStatusManualShipmentNeverPolled(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusConfirmed)
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      order.ID,
		ProviderType: courier.TypeManual,
		Status:       repo.ShipmentStatusPending,
	}
	store.addShipment(shipment)
	factory := &fakeFactory{adapter: &fakeAdapter{}}
	svc := newService(store, factory)

	result, err := svc.CheckShipmentStatus(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.Zero(t, factory.calls)
	require.False(t, result.StatusChanged)
	require.Equal(t, repo.ShipmentStatusPending, result.Shipment.Status)
	require.False(t, result.Shipment.LastChecked.Valid)
}

func TestCheckStatusPersistsFetchedStatus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusShipped)
	provider := seedProvider(store, courier.TypePathao)
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      order.ID,
		ProviderID:   provider.ID,
		ProviderType: provider.Type,
		Status:       repo.ShipmentStatusInTransit,
	}
	store.addShipment(shipment)
	adapter := &fakeAdapter{statusResult: courier.StatusResult{
		Status:    repo.ShipmentStatusDelivered,
		RawStatus: "Delivered",
	}}
	svc := newService(store, &fakeFactory{adapter: adapter})

	result, err := svc.CheckShipmentStatus(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.True(t, result.StatusChanged)
	require.Equal(t, repo.ShipmentStatusInTransit, result.PreviousStatus)
	require.Equal(t, repo.ShipmentStatusDelivered, result.Shipment.Status)
	require.Equal(t, "Delivered", result.Shipment.RawStatus.String)
	require.True(t, result.Shipment.LastChecked.Valid)
}

func TestCheckStatusFailureLeavesLastCheckedUntouched(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusShipped)
	provider := seedProvider(store, courier.TypePathao)
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      order.ID,
		ProviderID:   provider.ID,
		ProviderType: provider.Type,
		Status:       repo.ShipmentStatusInTransit,
	}
	store.addShipment(shipment)
	adapter := &fakeAdapter{statusErr: &courier.TransportError{ProviderType: courier.TypePathao, Err: errors.New("timeout")}}
	svc := newService(store, &fakeFactory{adapter: adapter})

	_, err := svc.CheckShipmentStatus(context.Background(), shipment.ID)
	require.Error(t, err)
	require.True(t, courier.IsTransient(err))

	current, getErr := store.Get(context.Background(), shipment.ID)
	require.NoError(t, getErr)
	require.False(t, current.LastChecked.Valid)
	require.Equal(t, repo.ShipmentStatusInTransit, current.Status)
}

func TestCheckStatusYieldsToConcurrentRefresh(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	order := seedOrder(store, repo.OrderStatusShipped)
	provider := seedProvider(store, courier.TypePathao)
	shipment := repo.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      order.ID,
		ProviderID:   provider.ID,
		ProviderType: provider.Type,
		Status:       repo.ShipmentStatusDelivered,
	}
	store.addShipment(shipment)
	// Another refresh bumped updated_at between our read and write.
	store.updateCheckedErr = pgx.ErrNoRows
	adapter := &fakeAdapter{statusResult: courier.StatusResult{
		Status:    repo.ShipmentStatusInTransit,
		RawStatus: "In Transit",
	}}
	svc := newService(store, &fakeFactory{adapter: adapter})

	result, err := svc.CheckShipmentStatus(context.Background(), shipment.ID)
	require.NoError(t, err)
	require.False(t, result.StatusChanged)
	require.Equal(t, repo.ShipmentStatusDelivered, result.Shipment.Status)
}

func TestGetShipmentReturnsNilWhenMissing(t *testing.T) {
	t.Parallel()

	svc := newService(newMemStore(), &fakeFactory{adapter: &fakeAdapter{}})
	shipment, err := svc.GetShipment(context.Background(), toPGUUID(uuid.New()))
	require.NoError(t, err)
	require.Nil(t, shipment)
}

func TestDeleteShipmentNotFound(t *testing.T) {
	t.Parallel()

	svc := newService(newMemStore(), &fakeFactory{adapter: &fakeAdapter{}})
	err := svc.DeleteShipment(context.Background(), toPGUUID(uuid.New()))
	require.ErrorIs(t, err, delivery.ErrShipmentNotFound)
}

func TestTestProviderConfigErrorBecomesFailedResult(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	provider := seedProvider(store, courier.TypePathao)
	factory := &fakeFactory{err: &courier.ConfigError{ProviderType: courier.TypePathao, Err: errors.New("client_id is required")}}
	svc := newService(store, factory)

	result, err := svc.TestProvider(context.Background(), provider.ID)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Message, "client_id")
}
