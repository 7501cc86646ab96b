package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/backend-dokan/internal/repo"
)

const pathaoDefaultBaseURL = "https://api-hermes.pathao.com"

// PathaoCredentials is the secret bundle stored for a Pathao merchant account.
type PathaoCredentials struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

// PathaoConfig carries non-secret merchant settings.
type PathaoConfig struct {
	BaseURL      string `json:"base_url"`
	StoreID      int64  `json:"store_id" validate:"required"`
	DeliveryType int    `json:"delivery_type"`
	ItemType     int    `json:"item_type"`
}

// Pathao integrates the Pathao Merchant API (token issuance, order creation and
// consignment lookup). Access tokens are cached until shortly before expiry.
type Pathao struct {
	creds PathaoCredentials
	cfg   PathaoConfig
	http  Doer

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPathao constructs the adapter from decoded credentials and config.
func NewPathao(creds PathaoCredentials, cfg PathaoConfig, client Doer) *Pathao {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = pathaoDefaultBaseURL
	}
	if cfg.DeliveryType <= 0 {
		cfg.DeliveryType = 48
	}
	if cfg.ItemType <= 0 {
		cfg.ItemType = 2
	}
	return &Pathao{creds: creds, cfg: cfg, http: client}
}

// Type implements Provider.
func (p *Pathao) Type() string { return TypePathao }

// TestConnection issues a fresh access token, the cheapest authenticated call
// the Pathao API supports.
func (p *Pathao) TestConnection(ctx context.Context) ConnectionResult {
	if _, err := p.issueToken(ctx); err != nil {
		return ConnectionResult{Success: false, Message: connectionFailureMessage(err)}
	}
	return ConnectionResult{Success: true, Message: "authenticated with Pathao merchant API"}
}

type pathaoOrderPayload struct {
	StoreID            int64  `json:"store_id"`
	MerchantOrderID    string `json:"merchant_order_id"`
	RecipientName      string `json:"recipient_name"`
	RecipientPhone     string `json:"recipient_phone"`
	RecipientAddress   string `json:"recipient_address"`
	RecipientCity      string `json:"recipient_city,omitempty"`
	RecipientZone      string `json:"recipient_zone,omitempty"`
	DeliveryType       int    `json:"delivery_type"`
	ItemType           int    `json:"item_type"`
	ItemQuantity       int    `json:"item_quantity"`
	ItemWeight         string `json:"item_weight"`
	AmountToCollect    int64  `json:"amount_to_collect"`
	ItemDescription    string `json:"item_description,omitempty"`
	SpecialInstruction string `json:"special_instruction,omitempty"`
}

type pathaoEnvelope struct {
	Message string              `json:"message"`
	Type    string              `json:"type"`
	Code    int                 `json:"code"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

// CreateShipment registers a consignment with Pathao and returns its id.
func (p *Pathao) CreateShipment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	quantity := req.ItemQuantity
	if quantity <= 0 {
		quantity = 1
	}
	weight := req.ItemWeightGrams
	if weight <= 0 {
		weight = 500
	}
	payload := pathaoOrderPayload{
		StoreID:            p.cfg.StoreID,
		MerchantOrderID:    req.MerchantOrderID,
		RecipientName:      req.RecipientName,
		RecipientPhone:     req.RecipientPhone,
		RecipientAddress:   req.RecipientAddress,
		RecipientCity:      req.RecipientCity,
		RecipientZone:      req.RecipientZone,
		DeliveryType:       p.cfg.DeliveryType,
		ItemType:           p.cfg.ItemType,
		ItemQuantity:       quantity,
		ItemWeight:         fmt.Sprintf("%.2f", float64(weight)/1000),
		AmountToCollect:    req.CODAmount,
		ItemDescription:    req.ItemDescription,
		SpecialInstruction: req.Note,
	}
	body, status, err := p.call(ctx, http.MethodPost, "/aladdin/api/v1/orders", token, payload)
	if err != nil {
		return CreateResult{}, err
	}
	var envelope pathaoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return CreateResult{}, &TransportError{ProviderType: TypePathao, Err: fmt.Errorf("decode response: %w", err)}
	}
	if status >= http.StatusBadRequest {
		return CreateResult{}, &RejectionError{ProviderType: TypePathao, Message: pathaoRejectionMessage(envelope)}
	}
	var data struct {
		ConsignmentID   string `json:"consignment_id"`
		MerchantOrderID string `json:"merchant_order_id"`
		OrderStatus     string `json:"order_status"`
	}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return CreateResult{}, &TransportError{ProviderType: TypePathao, Err: fmt.Errorf("decode consignment: %w", err)}
		}
	}
	if strings.TrimSpace(data.ConsignmentID) == "" {
		return CreateResult{}, &RejectionError{ProviderType: TypePathao, Message: pathaoRejectionMessage(envelope)}
	}
	return CreateResult{
		TrackingID: data.ConsignmentID,
		ExternalID: data.ConsignmentID,
		Raw:        body,
	}, nil
}

// CheckStatus looks up the consignment and maps its order_status into the
// canonical vocabulary. A consignment Pathao does not know yet maps to pending:
// newly created orders may not be queryable for a few seconds.
func (p *Pathao) CheckStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	consignment := strings.TrimSpace(q.ExternalID)
	if consignment == "" {
		consignment = strings.TrimSpace(q.TrackingID)
	}
	if consignment == "" {
		return StatusResult{}, &RejectionError{ProviderType: TypePathao, Message: "shipment has no consignment id"}
	}
	token, err := p.token(ctx)
	if err != nil {
		return StatusResult{}, err
	}
	path := fmt.Sprintf("/aladdin/api/v1/orders/%s/info", consignment)
	body, status, err := p.call(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return StatusResult{}, err
	}
	if status == http.StatusNotFound {
		return StatusResult{Status: repo.ShipmentStatusPending, RawStatus: "not_found", Metadata: body}, nil
	}
	var envelope pathaoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return StatusResult{}, &TransportError{ProviderType: TypePathao, Err: fmt.Errorf("decode response: %w", err)}
	}
	if status >= http.StatusBadRequest {
		return StatusResult{}, &RejectionError{ProviderType: TypePathao, Message: pathaoRejectionMessage(envelope)}
	}
	var data struct {
		OrderStatus string `json:"order_status"`
	}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return StatusResult{}, &TransportError{ProviderType: TypePathao, Err: fmt.Errorf("decode status: %w", err)}
		}
	}
	return StatusResult{
		Status:    mapPathaoStatus(data.OrderStatus),
		RawStatus: data.OrderStatus,
		Metadata:  body,
	}, nil
}

func (p *Pathao) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		token := p.accessToken
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()
	return p.issueToken(ctx)
}

func (p *Pathao) issueToken(ctx context.Context) (string, error) {
	payload := map[string]string{
		"client_id":     p.creds.ClientID,
		"client_secret": p.creds.ClientSecret,
		"username":      p.creds.Username,
		"password":      p.creds.Password,
		"grant_type":    "password",
	}
	body, status, err := p.call(ctx, http.MethodPost, "/aladdin/api/v1/issue-token", "", payload)
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest {
		var envelope pathaoEnvelope
		_ = json.Unmarshal(body, &envelope)
		return "", &RejectionError{ProviderType: TypePathao, Message: pathaoRejectionMessage(envelope)}
	}
	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", &TransportError{ProviderType: TypePathao, Err: fmt.Errorf("decode token: %w", err)}
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", &RejectionError{ProviderType: TypePathao, Message: "token response missing access_token"}
	}
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	p.mu.Lock()
	p.accessToken = token.AccessToken
	// renew one minute early so in-flight calls never carry an expired token
	p.tokenExpiry = time.Now().Add(time.Duration(expiresIn)*time.Second - time.Minute)
	p.mu.Unlock()
	return token.AccessToken, nil
}

func (p *Pathao) call(ctx context.Context, method, path, token string, payload any) ([]byte, int, error) {
	req, err := newJSONRequest(ctx, method, strings.TrimRight(p.cfg.BaseURL, "/")+path, payload)
	if err != nil {
		return nil, 0, &TransportError{ProviderType: TypePathao, Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return execute(ctx, p.http, req, TypePathao)
}

func pathaoRejectionMessage(envelope pathaoEnvelope) string {
	if len(envelope.Errors) > 0 {
		parts := make([]string, 0, len(envelope.Errors))
		for field, msgs := range envelope.Errors {
			parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, "; ")))
		}
		return strings.Join(parts, ", ")
	}
	if strings.TrimSpace(envelope.Message) != "" {
		return envelope.Message
	}
	return "request rejected by Pathao"
}

// mapPathaoStatus translates Pathao order_status labels into canonical
// shipment statuses. Unrecognised labels map to pending with the raw value
// preserved by the caller.
func mapPathaoStatus(raw string) repo.ShipmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "pickup_requested", "assigned_for_pickup", "on_hold":
		return repo.ShipmentStatusPending
	case "picked", "picked_up":
		return repo.ShipmentStatusPickedUp
	case "at_the_sorting_hub", "in_transit", "received_at_last_mile_hub", "assigned_for_delivery":
		return repo.ShipmentStatusInTransit
	case "delivered", "partial_delivery", "payment_invoice":
		return repo.ShipmentStatusDelivered
	case "return", "returned":
		return repo.ShipmentStatusReturned
	case "pickup_failed", "delivery_failed":
		return repo.ShipmentStatusFailed
	case "pickup_cancelled", "cancelled":
		return repo.ShipmentStatusCancelled
	}
	return repo.ShipmentStatusPending
}
