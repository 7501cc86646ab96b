package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-dokan/internal/common"
	"github.com/noah-isme/backend-dokan/internal/events"
	"github.com/noah-isme/backend-dokan/internal/repo"
)

// EmailNotifier sends transactional emails for selected topics. Actual
// delivery goes through the injected EmailSender; the default wiring uses a
// no-op sender.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event repo.DomainEvent) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return nil
	}
	subject := subjectFor(event.Topic, payload)
	body := bodyFor(event.Topic, payload, event.OccurredAt.Time)
	return n.Mail.Send(to, subject, body)
}

func extractRecipient(payload map[string]any) string {
	keys := []string{"customerEmail", "email", "recipient"}
	for _, key := range keys {
		if val, ok := payload[key]; ok {
			if s, ok := val.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func subjectFor(topic string, payload map[string]any) string {
	switch topic {
	case events.TopicShipmentCreated:
		return "Your order is on its way to the courier"
	case events.TopicShipmentStatusChanged:
		if status, ok := payload["newStatus"].(string); ok {
			switch repo.ShipmentStatus(status) {
			case repo.ShipmentStatusPickedUp, repo.ShipmentStatusInTransit:
				return "Your parcel is on the move"
			case repo.ShipmentStatusDelivered:
				return "Your parcel has been delivered"
			case repo.ShipmentStatusReturned:
				return "Your parcel was returned"
			case repo.ShipmentStatusFailed:
				return "Delivery attempt failed"
			case repo.ShipmentStatusCancelled:
				return "Your shipment was cancelled"
			}
		}
		return "Shipment update"
	case events.TopicOrderStatusChanged:
		return "Order status update"
	default:
		return fmt.Sprintf("Notification: %s", topic)
	}
}

func bodyFor(topic string, payload map[string]any, occurred time.Time) string {
	summary := fmt.Sprintf("Event %s occurred at %s.", topic, occurred.Format(time.RFC3339))
	if orderID, ok := payload["orderId"].(string); ok && orderID != "" {
		summary += fmt.Sprintf("\nOrder: %s", orderID)
	}
	if shipmentID, ok := payload["shipmentId"].(string); ok && shipmentID != "" {
		summary += fmt.Sprintf("\nShipment: %s", shipmentID)
	}
	if trackingURL, ok := payload["trackingUrl"].(string); ok && trackingURL != "" {
		summary += fmt.Sprintf("\nTrack your parcel: %s", trackingURL)
	}
	return summary
}
