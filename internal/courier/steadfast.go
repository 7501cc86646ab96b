package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-dokan/internal/repo"
)

const steadfastDefaultBaseURL = "https://portal.packzy.com/api/v1"

// SteadfastCredentials is the API key pair issued by the Steadfast portal.
type SteadfastCredentials struct {
	APIKey    string `json:"api_key" validate:"required"`
	SecretKey string `json:"secret_key" validate:"required"`
}

// SteadfastConfig carries non-secret settings.
type SteadfastConfig struct {
	BaseURL string `json:"base_url"`
}

// Steadfast integrates the Steadfast courier API. Authentication is stateless:
// every request carries the key pair in headers.
type Steadfast struct {
	creds SteadfastCredentials
	cfg   SteadfastConfig
	http  Doer
}

// NewSteadfast constructs the adapter from decoded credentials and config.
func NewSteadfast(creds SteadfastCredentials, cfg SteadfastConfig, client Doer) *Steadfast {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = steadfastDefaultBaseURL
	}
	return &Steadfast{creds: creds, cfg: cfg, http: client}
}

// Type implements Provider.
func (s *Steadfast) Type() string { return TypeSteadfast }

// TestConnection probes the balance endpoint, which authenticates the key pair
// without mutating any remote state.
func (s *Steadfast) TestConnection(ctx context.Context) ConnectionResult {
	body, status, err := s.call(ctx, http.MethodGet, "/get_balance", nil)
	if err != nil {
		return ConnectionResult{Success: false, Message: connectionFailureMessage(err)}
	}
	if status >= http.StatusBadRequest {
		return ConnectionResult{Success: false, Message: steadfastMessage(body, "authentication failed")}
	}
	var balance struct {
		Status         int     `json:"status"`
		CurrentBalance float64 `json:"current_balance"`
	}
	if err := json.Unmarshal(body, &balance); err != nil || balance.Status != http.StatusOK {
		return ConnectionResult{Success: false, Message: steadfastMessage(body, "authentication failed")}
	}
	return ConnectionResult{Success: true, Message: fmt.Sprintf("authenticated, balance %.2f BDT", balance.CurrentBalance)}
}

type steadfastOrderPayload struct {
	Invoice          string `json:"invoice"`
	RecipientName    string `json:"recipient_name"`
	RecipientPhone   string `json:"recipient_phone"`
	RecipientAddress string `json:"recipient_address"`
	CODAmount        int64  `json:"cod_amount"`
	Note             string `json:"note,omitempty"`
}

// CreateShipment places a consignment and returns the tracking code Steadfast
// assigns to it.
func (s *Steadfast) CreateShipment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	payload := steadfastOrderPayload{
		Invoice:          req.MerchantOrderID,
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		RecipientAddress: req.RecipientAddress,
		CODAmount:        req.CODAmount,
		Note:             req.Note,
	}
	body, status, err := s.call(ctx, http.MethodPost, "/create_order", payload)
	if err != nil {
		return CreateResult{}, err
	}
	if status >= http.StatusBadRequest {
		return CreateResult{}, &RejectionError{ProviderType: TypeSteadfast, Message: steadfastMessage(body, "order rejected")}
	}
	var resp struct {
		Status      int    `json:"status"`
		Message     string `json:"message"`
		Consignment struct {
			ConsignmentID int64  `json:"consignment_id"`
			Invoice       string `json:"invoice"`
			TrackingCode  string `json:"tracking_code"`
			Status        string `json:"status"`
		} `json:"consignment"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return CreateResult{}, &TransportError{ProviderType: TypeSteadfast, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Status != http.StatusOK || strings.TrimSpace(resp.Consignment.TrackingCode) == "" {
		return CreateResult{}, &RejectionError{ProviderType: TypeSteadfast, Message: steadfastMessage(body, "order rejected")}
	}
	return CreateResult{
		TrackingID: resp.Consignment.TrackingCode,
		ExternalID: fmt.Sprintf("%d", resp.Consignment.ConsignmentID),
		Raw:        body,
	}, nil
}

// CheckStatus queries delivery_status by tracking code, falling back to the
// consignment id. Consignments not yet visible on the portal map to pending.
func (s *Steadfast) CheckStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	var path string
	switch {
	case strings.TrimSpace(q.TrackingID) != "":
		path = "/status_by_trackingcode/" + strings.TrimSpace(q.TrackingID)
	case strings.TrimSpace(q.ExternalID) != "":
		path = "/status_by_cid/" + strings.TrimSpace(q.ExternalID)
	default:
		return StatusResult{}, &RejectionError{ProviderType: TypeSteadfast, Message: "shipment has no tracking code"}
	}
	body, status, err := s.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return StatusResult{}, err
	}
	if status == http.StatusNotFound {
		return StatusResult{Status: repo.ShipmentStatusPending, RawStatus: "not_found", Metadata: body}, nil
	}
	if status >= http.StatusBadRequest {
		return StatusResult{}, &RejectionError{ProviderType: TypeSteadfast, Message: steadfastMessage(body, "status lookup rejected")}
	}
	var resp struct {
		Status         int    `json:"status"`
		DeliveryStatus string `json:"delivery_status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusResult{}, &TransportError{ProviderType: TypeSteadfast, Err: fmt.Errorf("decode response: %w", err)}
	}
	return StatusResult{
		Status:    mapSteadfastStatus(resp.DeliveryStatus),
		RawStatus: resp.DeliveryStatus,
		Metadata:  body,
	}, nil
}

func (s *Steadfast) call(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	req, err := newJSONRequest(ctx, method, strings.TrimRight(s.cfg.BaseURL, "/")+path, payload)
	if err != nil {
		return nil, 0, &TransportError{ProviderType: TypeSteadfast, Err: err}
	}
	req.Header.Set("Api-Key", s.creds.APIKey)
	req.Header.Set("Secret-Key", s.creds.SecretKey)
	return execute(ctx, s.http, req, TypeSteadfast)
}

func steadfastMessage(body []byte, fallback string) string {
	var resp struct {
		Message string         `json:"message"`
		Errors  map[string]any `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && strings.TrimSpace(resp.Message) != "" {
		return resp.Message
	}
	return fallback
}

// mapSteadfastStatus translates delivery_status labels into canonical shipment
// statuses. Approval-pending labels stay in transit until the portal settles.
func mapSteadfastStatus(raw string) repo.ShipmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "in_review", "hold":
		return repo.ShipmentStatusPending
	case "delivered_approval_pending", "partial_delivered_approval_pending":
		return repo.ShipmentStatusInTransit
	case "delivered", "partial_delivered":
		return repo.ShipmentStatusDelivered
	case "cancelled", "cancelled_approval_pending":
		return repo.ShipmentStatusCancelled
	case "unknown", "unknown_approval_pending":
		return repo.ShipmentStatusFailed
	}
	return repo.ShipmentStatusPending
}
