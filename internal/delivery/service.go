package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/events"
	"github.com/noah-isme/backend-dokan/internal/obs"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

var (
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProviderNotFound is returned when the referenced provider does not exist.
	ErrProviderNotFound = errors.New("delivery provider not found")
	// ErrProviderInactive is returned when the provider is disabled by the admin.
	ErrProviderInactive = errors.New("delivery provider is not active")
	// ErrShipmentNotFound is returned when the referenced shipment does not exist.
	ErrShipmentNotFound = errors.New("shipment not found")
)

type shipmentStore interface {
	Create(ctx context.Context, arg repo.CreateShipmentParams) (repo.Shipment, error)
	Get(ctx context.Context, id pgtype.UUID) (repo.Shipment, error)
	ListByOrder(ctx context.Context, orderID pgtype.UUID) ([]repo.Shipment, error)
	UpdateChecked(ctx context.Context, arg repo.UpdateCheckedParams) (repo.Shipment, error)
	Delete(ctx context.Context, id pgtype.UUID) (bool, error)
}

type orderReader interface {
	Get(ctx context.Context, id pgtype.UUID) (repo.Order, error)
}

type providerReader interface {
	Get(ctx context.Context, id pgtype.UUID) (repo.Provider, error)
}

type adapterFactory interface {
	Create(record repo.Provider) (courier.Provider, error)
}

// Service is the delivery orchestration façade. It owns no courier-specific
// logic; courier calls go through adapters built by the factory per request.
type Service struct {
	Shipments shipmentStore
	Orders    orderReader
	Providers providerReader
	Factory   adapterFactory
	Events    *events.Bus
	Log       zerolog.Logger
}

// CreateShipmentArgs carries the caller-supplied shipment options. CODAmount
// nil means "collect the order total"; TrackingID is only honoured for manual
// shipments where no courier assigns one.
type CreateShipmentArgs struct {
	OrderID    pgtype.UUID
	ProviderID pgtype.UUID
	CODAmount  *int64
	TrackingID string
	Note       string
}

// CreateShipment registers a shipment for the order. For courier-backed
// shipments the courier is called first and the returned identifiers are
// persisted; for manual shipments (zero ProviderID) no courier is involved.
func (s *Service) CreateShipment(ctx context.Context, arg CreateShipmentArgs) (repo.Shipment, error) {
	order, err := s.Orders.Get(ctx, arg.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.Shipment{}, ErrOrderNotFound
		}
		return repo.Shipment{}, err
	}

	codAmount := order.TotalAmount + order.ShippingCharge - order.DiscountAmount
	if arg.CODAmount != nil {
		codAmount = *arg.CODAmount
	}

	if !arg.ProviderID.Valid {
		return s.createManual(ctx, order, arg, codAmount)
	}

	record, err := s.Providers.Get(ctx, arg.ProviderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.Shipment{}, ErrProviderNotFound
		}
		return repo.Shipment{}, err
	}
	if !record.IsActive {
		return repo.Shipment{}, ErrProviderInactive
	}
	adapter, err := s.Factory.Create(record)
	if err != nil {
		return repo.Shipment{}, err
	}

	req := courier.CreateRequest{
		MerchantOrderID:  uuidString(order.ID),
		RecipientName:    order.CustomerName,
		RecipientPhone:   order.CustomerPhone,
		RecipientAddress: order.Address,
		RecipientCity:    order.City.String,
		RecipientZone:    order.Zone.String,
		CODAmount:        codAmount,
		ItemQuantity:     1,
		Note:             arg.Note,
	}
	start := time.Now()
	result, err := adapter.CreateShipment(ctx, req)
	obs.CourierCallDuration.WithLabelValues(adapter.Type(), "create").Observe(time.Since(start).Seconds())
	if err != nil {
		obs.CourierCallTotal.WithLabelValues(adapter.Type(), "create", "error").Inc()
		obs.ShipmentCreatedTotal.WithLabelValues(adapter.Type(), "error").Inc()
		return repo.Shipment{}, err
	}
	obs.CourierCallTotal.WithLabelValues(adapter.Type(), "create", "ok").Inc()

	shipment, err := s.Shipments.Create(ctx, repo.CreateShipmentParams{
		OrderID:      order.ID,
		ProviderID:   record.ID,
		ProviderType: record.Type,
		TrackingID:   optionalText(result.TrackingID),
		ExternalID:   optionalText(result.ExternalID),
		Status:       repo.ShipmentStatusPending,
		Metadata:     result.Raw,
		CODAmount:    codAmount,
	})
	if err != nil {
		// The courier-side shipment already exists. Losing the tracking id
		// here would strand it, so the divergence gets its own log line.
		s.Log.Error().Err(err).
			Str("order_id", uuidString(order.ID)).
			Str("provider", record.Type).
			Str("tracking_id", result.TrackingID).
			Str("external_id", result.ExternalID).
			Msg("orphaned remote shipment: courier accepted but persistence failed")
		obs.ShipmentCreatedTotal.WithLabelValues(record.Type, "orphaned").Inc()
		return repo.Shipment{}, err
	}
	obs.ShipmentCreatedTotal.WithLabelValues(record.Type, "ok").Inc()
	s.emitShipmentCreated(ctx, shipment, order)
	return shipment, nil
}

func (s *Service) createManual(ctx context.Context, order repo.Order, arg CreateShipmentArgs, codAmount int64) (repo.Shipment, error) {
	shipment, err := s.Shipments.Create(ctx, repo.CreateShipmentParams{
		OrderID:      order.ID,
		ProviderType: courier.TypeManual,
		TrackingID:   optionalText(arg.TrackingID),
		Status:       repo.ShipmentStatusPending,
		CODAmount:    codAmount,
	})
	if err != nil {
		return repo.Shipment{}, err
	}
	obs.ShipmentCreatedTotal.WithLabelValues(courier.TypeManual, "ok").Inc()
	s.emitShipmentCreated(ctx, shipment, order)
	return shipment, nil
}

func (s *Service) emitShipmentCreated(ctx context.Context, shipment repo.Shipment, order repo.Order) {
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"shipmentId":    uuidString(shipment.ID),
		"orderId":       uuidString(order.ID),
		"provider":      shipment.ProviderType,
		"trackingId":    shipment.TrackingID.String,
		"trackingUrl":   courier.TrackingURL(shipment.ProviderType, shipment.TrackingID.String),
		"customerEmail": order.CustomerEmail.String,
		"codAmount":     shipment.CODAmount,
	}
	if _, err := s.Events.Emit(ctx, events.TopicShipmentCreated, shipment.ID, payload); err != nil {
		s.Log.Warn().Err(err).Str("shipment_id", uuidString(shipment.ID)).Msg("emit shipment created event")
	}
}

// CheckResult is the outcome of a status refresh.
type CheckResult struct {
	Shipment       repo.Shipment
	PreviousStatus repo.ShipmentStatus
	StatusChanged  bool
}

// CheckShipmentStatus fetches the current courier status and persists it.
// Manual shipments are returned unchanged without any network call. The
// shipment write is compare-and-set on updated_at, so when a concurrent
// refresh lands first this refresh yields to it and reports no change.
// Order reconciliation is the caller's explicit next step via the Tracker.
func (s *Service) CheckShipmentStatus(ctx context.Context, shipmentID pgtype.UUID) (CheckResult, error) {
	shipment, err := s.Shipments.Get(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{}, ErrShipmentNotFound
		}
		return CheckResult{}, err
	}
	if !shipment.ProviderID.Valid {
		return CheckResult{Shipment: shipment, PreviousStatus: shipment.Status}, nil
	}

	record, err := s.Providers.Get(ctx, shipment.ProviderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{}, ErrProviderNotFound
		}
		return CheckResult{}, err
	}
	adapter, err := s.Factory.Create(record)
	if err != nil {
		return CheckResult{}, err
	}

	start := time.Now()
	result, err := adapter.CheckStatus(ctx, courier.StatusQuery{
		TrackingID: shipment.TrackingID.String,
		ExternalID: shipment.ExternalID.String,
	})
	obs.CourierCallDuration.WithLabelValues(adapter.Type(), "check").Observe(time.Since(start).Seconds())
	if err != nil {
		// last_checked stays untouched on failure so staleness is observable.
		obs.CourierCallTotal.WithLabelValues(adapter.Type(), "check", "error").Inc()
		return CheckResult{}, err
	}
	obs.CourierCallTotal.WithLabelValues(adapter.Type(), "check", "ok").Inc()

	updated, err := s.Shipments.UpdateChecked(ctx, repo.UpdateCheckedParams{
		ID:            shipment.ID,
		Status:        result.Status,
		RawStatus:     optionalText(result.RawStatus),
		Metadata:      result.Metadata,
		LastChecked:   pgtype.Timestamptz{Time: time.Now(), Valid: true},
		PrevUpdatedAt: shipment.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.Log.Debug().
				Str("shipment_id", uuidString(shipment.ID)).
				Msg("discarding stale status refresh: shipment changed concurrently")
			current, getErr := s.Shipments.Get(ctx, shipment.ID)
			if getErr != nil {
				return CheckResult{}, getErr
			}
			return CheckResult{Shipment: current, PreviousStatus: current.Status}, nil
		}
		return CheckResult{}, err
	}

	return CheckResult{
		Shipment:       updated,
		PreviousStatus: shipment.Status,
		StatusChanged:  updated.Status != shipment.Status,
	}, nil
}

// ApplyStatus persists a status pushed by the courier, bypassing the
// status-lookup call. The same compare-and-set guard as CheckShipmentStatus
// applies, so a push racing a poll cannot clobber the newer result.
func (s *Service) ApplyStatus(ctx context.Context, shipmentID pgtype.UUID, status repo.ShipmentStatus, rawStatus string, metadata []byte) (CheckResult, error) {
	shipment, err := s.Shipments.Get(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{}, ErrShipmentNotFound
		}
		return CheckResult{}, err
	}
	updated, err := s.Shipments.UpdateChecked(ctx, repo.UpdateCheckedParams{
		ID:            shipment.ID,
		Status:        status,
		RawStatus:     optionalText(rawStatus),
		Metadata:      metadata,
		LastChecked:   pgtype.Timestamptz{Time: time.Now(), Valid: true},
		PrevUpdatedAt: shipment.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := s.Shipments.Get(ctx, shipment.ID)
			if getErr != nil {
				return CheckResult{}, getErr
			}
			return CheckResult{Shipment: current, PreviousStatus: current.Status}, nil
		}
		return CheckResult{}, err
	}
	return CheckResult{
		Shipment:       updated,
		PreviousStatus: shipment.Status,
		StatusChanged:  updated.Status != shipment.Status,
	}, nil
}

// DeleteShipment removes the local record. The courier side is not informed;
// no universal cancel API is assumed.
func (s *Service) DeleteShipment(ctx context.Context, shipmentID pgtype.UUID) error {
	found, err := s.Shipments.Delete(ctx, shipmentID)
	if err != nil {
		return err
	}
	if !found {
		return ErrShipmentNotFound
	}
	return nil
}

// GetShipment returns the shipment or nil when it does not exist, so callers
// can tell not-found apart from a transport failure.
func (s *Service) GetShipment(ctx context.Context, id pgtype.UUID) (*repo.Shipment, error) {
	shipment, err := s.Shipments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &shipment, nil
}

// GetProvider returns the provider record or nil when it does not exist.
func (s *Service) GetProvider(ctx context.Context, id pgtype.UUID) (*repo.Provider, error) {
	record, err := s.Providers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListShipments returns all shipment attempts for the order, newest first.
func (s *Service) ListShipments(ctx context.Context, orderID pgtype.UUID) ([]repo.Shipment, error) {
	return s.Shipments.ListByOrder(ctx, orderID)
}

// TestProvider probes the provider's credentials with its cheapest
// authenticated call. Configuration problems surface as a failed result
// rather than an error so admins see the reason in one shape.
func (s *Service) TestProvider(ctx context.Context, providerID pgtype.UUID) (courier.ConnectionResult, error) {
	record, err := s.Providers.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return courier.ConnectionResult{}, ErrProviderNotFound
		}
		return courier.ConnectionResult{}, err
	}
	adapter, err := s.Factory.Create(record)
	if err != nil {
		if courier.IsConfig(err) || errors.Is(err, courier.ErrUnknownProviderType) {
			return courier.ConnectionResult{Success: false, Message: err.Error()}, nil
		}
		return courier.ConnectionResult{}, err
	}
	start := time.Now()
	result := adapter.TestConnection(ctx)
	obs.CourierCallDuration.WithLabelValues(adapter.Type(), "test").Observe(time.Since(start).Seconds())
	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	obs.CourierCallTotal.WithLabelValues(adapter.Type(), "test", outcome).Inc()
	return result, nil
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
