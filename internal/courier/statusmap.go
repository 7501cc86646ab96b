package courier

import (
	"strings"

	"github.com/noah-isme/backend-dokan/internal/repo"
)

// MapRawStatus converts a courier's raw status label into the canonical
// vocabulary without constructing an adapter. Webhook handlers use this when a
// courier pushes a status instead of being polled. Unknown provider types and
// unrecognised labels map to pending; the raw label is preserved elsewhere.
func MapRawStatus(providerType, raw string) repo.ShipmentStatus {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case TypePathao:
		return mapPathaoStatus(raw)
	case TypeSteadfast:
		return mapSteadfastStatus(raw)
	}
	return repo.ShipmentStatusPending
}
