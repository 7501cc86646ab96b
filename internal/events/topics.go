package events

// Topic constants for domain events emitted by the delivery engine.
const (
	TopicShipmentCreated       = "shipment.created"
	TopicShipmentStatusChanged = "shipment.status_changed"
	TopicOrderStatusChanged    = "order.status_changed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicShipmentCreated,
		TopicShipmentStatusChanged,
		TopicOrderStatusChanged,
	}
}
