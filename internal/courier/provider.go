package courier

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/noah-isme/backend-dokan/internal/repo"
)

// Provider type tags understood by the factory and the tracking URL resolver.
const (
	TypePathao    = "pathao"
	TypeSteadfast = "steadfast"
	TypeManual    = "manual"
)

// ConnectionResult reports the outcome of a credential probe. TestConnection
// never returns an error: failures surface here with a human-readable message.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateRequest is the courier-agnostic shipment creation payload built by the
// delivery service from order contact fields and COD options.
type CreateRequest struct {
	MerchantOrderID  string
	RecipientName    string
	RecipientPhone   string
	RecipientAddress string
	RecipientCity    string
	RecipientZone    string
	CODAmount        int64
	ItemQuantity     int
	ItemWeightGrams  int
	ItemDescription  string
	Note             string
}

// CreateResult carries the courier-assigned identifiers plus the raw response
// body for the shipment metadata column.
type CreateResult struct {
	TrackingID string
	ExternalID string
	Raw        json.RawMessage
}

// StatusQuery identifies a shipment on the courier side.
type StatusQuery struct {
	TrackingID string
	ExternalID string
}

// StatusResult is a fetched courier status translated into the canonical
// vocabulary. RawStatus preserves the courier's own label for diagnostics.
type StatusResult struct {
	Status    repo.ShipmentStatus
	RawStatus string
	Metadata  json.RawMessage
}

// Provider abstracts one courier integration. Implementations are stateless
// across calls apart from short-lived access token caches.
type Provider interface {
	Type() string
	TestConnection(ctx context.Context) ConnectionResult
	CreateShipment(ctx context.Context, req CreateRequest) (CreateResult, error)
	CheckStatus(ctx context.Context, q StatusQuery) (StatusResult, error)
}

// Doer executes outbound courier HTTP requests. The resilience HTTP client
// satisfies it, giving every courier call bounded timeouts and retry.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}
