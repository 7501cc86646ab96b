package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-dokan/internal/common"
	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/obs"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Webhook handles courier status push callbacks. Couriers that support push
// deliver status changes here instead of waiting for the next poll.
type Webhook struct {
	Svc       *Service
	Tracker   *Tracker
	Replay    replayStore
	ReplayTTL time.Duration
}

type webhookPayload struct {
	ShipmentID string `json:"shipmentId"`
	RawStatus  string `json:"rawStatus"`
}

// Handle processes one courier callback. Duplicate payloads inside the replay
// window are rejected with 409.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "delivery service not configured", nil)
		return
	}
	if h.Replay == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "replay protection not configured", nil)
		return
	}
	ctx, span := otel.Tracer("delivery.Webhook").Start(r.Context(), "DeliveryWebhook.Handle")
	defer span.End()
	r = r.WithContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unable to read payload", nil)
		return
	}
	providerType := strings.ToLower(chi.URLParam(r, "provider"))
	span.SetAttributes(attribute.String("delivery.webhook.provider", providerType))
	outcome := "error"
	defer func() {
		obs.CourierWebhookTotal.WithLabelValues(providerType, outcome).Inc()
	}()

	key := fmt.Sprintf("dlwh:%s:%s", providerType, common.Sha256Hex(string(body)))
	ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "replay protection failed", nil)
		return
	}
	if !ok {
		span.AddEvent("courier webhook replay prevented")
		common.JSONError(w, http.StatusConflict, common.CodeConflict, "duplicate webhook payload", nil)
		return
	}

	payload, err := decodeWebhookPayload(body, r)
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	shipmentID, err := parseUUID(payload.ShipmentID)
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid shipment id", nil)
		return
	}
	span.SetAttributes(
		attribute.String("delivery.webhook.shipment_id", payload.ShipmentID),
		attribute.String("delivery.webhook.raw_status", payload.RawStatus),
	)

	status := courier.MapRawStatus(providerType, payload.RawStatus)
	metadata, _ := json.Marshal(map[string]string{"source": "webhook", "rawStatus": payload.RawStatus})

	result, err := h.Svc.ApplyStatus(r.Context(), shipmentID, status, payload.RawStatus, metadata)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrShipmentNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "shipment not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to apply status", nil)
		return
	}
	if result.StatusChanged && h.Tracker != nil {
		h.Tracker.UpdateOrderStatusFromShipment(r.Context(), result.Shipment.ID, result.Shipment.Status)
		h.Tracker.NotifyStatusChange(r.Context(), result.Shipment.ID, result.PreviousStatus, result.Shipment.Status)
	}
	outcome = "success"
	w.WriteHeader(http.StatusNoContent)
}

func decodeWebhookPayload(body []byte, r *http.Request) (webhookPayload, error) {
	var payload webhookPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = webhookPayload{}
		}
	}
	if payload.ShipmentID == "" {
		payload.ShipmentID = r.URL.Query().Get("shipmentId")
	}
	if payload.RawStatus == "" {
		payload.RawStatus = r.URL.Query().Get("status")
	}
	if payload.ShipmentID == "" {
		return webhookPayload{}, errors.New("shipmentId is required")
	}
	if payload.RawStatus == "" {
		return webhookPayload{}, errors.New("rawStatus is required")
	}
	return payload, nil
}
