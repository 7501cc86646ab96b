package repo

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// ShipmentStatus is the canonical courier-agnostic status vocabulary. Adapters
// translate every raw courier status into exactly one of these values.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusPickedUp  ShipmentStatus = "picked_up"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusReturned  ShipmentStatus = "returned"
	ShipmentStatusFailed    ShipmentStatus = "failed"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

// OrderStatus is the subset of order states this service reads and writes.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ValidShipmentStatus reports whether the value belongs to the canonical set.
func ValidShipmentStatus(s ShipmentStatus) bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusPickedUp, ShipmentStatusInTransit,
		ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusFailed,
		ShipmentStatusCancelled:
		return true
	}
	return false
}

// Provider is a stored courier integration record. Credentials and Config are
// opaque JSON blobs decoded lazily at adapter construction.
type Provider struct {
	ID          pgtype.UUID
	Name        string
	Type        string
	IsActive    bool
	Credentials []byte
	Config      []byte
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// Shipment records one attempt to ship an order via a courier or manually.
// ProviderID is null for manually tracked shipments; ProviderType is always set.
type Shipment struct {
	ID           pgtype.UUID
	OrderID      pgtype.UUID
	ProviderID   pgtype.UUID
	ProviderType string
	TrackingID   pgtype.Text
	ExternalID   pgtype.Text
	Status       ShipmentStatus
	RawStatus    pgtype.Text
	Metadata     []byte
	CODAmount    int64
	LastChecked  pgtype.Timestamptz
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// Order is the slice of the order row this service touches: totals seed the
// default COD amount, status and updated_at are written during reconciliation.
type Order struct {
	ID             pgtype.UUID
	Status         OrderStatus
	CustomerName   string
	CustomerPhone  string
	CustomerEmail  pgtype.Text
	Address        string
	City           pgtype.Text
	Zone           pgtype.Text
	TotalAmount    int64
	ShippingCharge int64
	DiscountAmount int64
	UpdatedAt      pgtype.Timestamptz
}

// DomainEvent is a persisted event emitted on the bus.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}
