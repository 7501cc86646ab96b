package delivery

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-dokan/internal/common"
	"github.com/noah-isme/backend-dokan/internal/courier"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

// Handler exposes the HTTP surface for shipment orchestration.
type Handler struct {
	Svc      *Service
	Tracker  *Tracker
	Validate *validator.Validate
}

// Routes mounts the delivery endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/shipments", h.Create)
	r.Get("/shipments/{id}", h.Get)
	r.Post("/shipments/{id}/refresh", h.Refresh)
	r.Delete("/shipments/{id}", h.Delete)
	r.Get("/orders/{orderId}/shipments", h.ListByOrder)
	r.Post("/providers/{id}/test", h.TestProvider)
}

type createShipmentRequest struct {
	OrderID    string `json:"orderId" validate:"required,uuid4"`
	ProviderID string `json:"providerId" validate:"omitempty,uuid4"`
	CODAmount  *int64 `json:"codAmount" validate:"omitempty,gte=0"`
	TrackingID string `json:"trackingId"`
	Note       string `json:"note" validate:"max=500"`
}

// Create registers a shipment for an order. Omitting providerId records a
// manually tracked shipment.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "delivery service not configured", nil)
		return
	}
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid request body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "validation failed", err.Error())
			return
		}
	}
	orderID, err := parseUUID(req.OrderID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return
	}
	args := CreateShipmentArgs{
		OrderID:    orderID,
		CODAmount:  req.CODAmount,
		TrackingID: req.TrackingID,
		Note:       req.Note,
	}
	if req.ProviderID != "" {
		providerID, err := parseUUID(req.ProviderID)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid provider id", nil)
			return
		}
		args.ProviderID = providerID
	}
	shipment, err := h.Svc.CreateShipment(r.Context(), args)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": serialiseShipment(shipment)})
}

// Get returns one shipment.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid shipment id", nil)
		return
	}
	shipment, err := h.Svc.GetShipment(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load shipment", nil)
		return
	}
	if shipment == nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "shipment not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": serialiseShipment(*shipment)})
}

// Refresh fetches the courier status for one shipment, persists it, then
// reconciles the linked order.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid shipment id", nil)
		return
	}
	result, err := h.Svc.CheckShipmentStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var orderUpdate *OrderStatusUpdate
	if result.StatusChanged && h.Tracker != nil {
		orderUpdate = h.Tracker.UpdateOrderStatusFromShipment(r.Context(), result.Shipment.ID, result.Shipment.Status)
		h.Tracker.NotifyStatusChange(r.Context(), result.Shipment.ID, result.PreviousStatus, result.Shipment.Status)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"shipment":          serialiseShipment(result.Shipment),
			"statusChanged":     result.StatusChanged,
			"orderStatusUpdate": serialiseOrderUpdate(orderUpdate),
		},
	})
}

// Delete removes a shipment record.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid shipment id", nil)
		return
	}
	if err := h.Svc.DeleteShipment(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListByOrder returns every shipment attempt for an order.
func (h *Handler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return
	}
	shipments, err := h.Svc.ListShipments(r.Context(), orderID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list shipments", nil)
		return
	}
	items := make([]map[string]any, 0, len(shipments))
	for _, s := range shipments {
		items = append(items, serialiseShipment(s))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// TestProvider probes a stored provider's credentials.
func (h *Handler) TestProvider(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid provider id", nil)
		return
	}
	result, err := h.Svc.TestProvider(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func serialiseShipment(s repo.Shipment) map[string]any {
	return map[string]any{
		"id":           uuidString(s.ID),
		"orderId":      uuidString(s.OrderID),
		"providerId":   nullableUUID(s.ProviderID),
		"providerType": s.ProviderType,
		"trackingId":   nullableText(s.TrackingID),
		"externalId":   nullableText(s.ExternalID),
		"trackingUrl":  nullableString(courier.TrackingURL(s.ProviderType, s.TrackingID.String)),
		"status":       s.Status,
		"rawStatus":    nullableText(s.RawStatus),
		"codAmount":    s.CODAmount,
		"lastChecked":  nullableTime(s.LastChecked),
		"createdAt":    nullableTime(s.CreatedAt),
		"updatedAt":    nullableTime(s.UpdatedAt),
	}
}

func serialiseOrderUpdate(u *OrderStatusUpdate) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"orderId":        uuidString(u.OrderID),
		"previousStatus": u.PreviousStatus,
		"newStatus":      u.NewStatus,
	}
}

func nullableUUID(id pgtype.UUID) *string {
	if !id.Valid {
		return nil
	}
	s := uuidString(id)
	return &s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writeServiceError maps service and courier errors onto HTTP status codes.
// Courier rejection messages pass through verbatim so admins see the reason.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrShipmentNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	case errors.Is(err, ErrProviderInactive):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.Is(err, courier.ErrUnknownProviderType), courier.IsConfig(err):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeConfiguration, err.Error(), nil)
	case courier.IsRejection(err):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeRejected, err.Error(), nil)
	case courier.IsTransient(err):
		common.JSONError(w, http.StatusBadGateway, common.CodeUpstream, "courier temporarily unavailable", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "internal error", nil)
	}
}
