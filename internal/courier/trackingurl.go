package courier

import (
	"net/url"
	"strings"
)

// TrackingURL resolves the public tracking page for a shipment. It is pure:
// no I/O, no state. The empty string means no URL exists, either because the
// tracking id is absent or the provider type has no public tracking page.
func TrackingURL(providerType, trackingID string) string {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case TypePathao:
		return "https://merchant.pathao.com/tracking?consignment_id=" + url.QueryEscape(trackingID)
	case TypeSteadfast:
		return "https://steadfast.com.bd/t/" + url.PathEscape(trackingID)
	}
	return ""
}
