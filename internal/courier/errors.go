package courier

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnknownProviderType is returned by the factory for unrecognised type tags.
var ErrUnknownProviderType = errors.New("courier: unknown provider type")

// ConfigError marks malformed or incomplete credentials/config. It is raised
// before any network call so configuration mistakes are distinguishable from
// courier outages, and is never retried automatically.
type ConfigError struct {
	ProviderType string
	Err          error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("courier %s: invalid configuration: %v", e.ProviderType, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RejectionError means the courier explicitly refused the request, e.g. an
// invalid address. Message carries the courier's reason verbatim.
type RejectionError struct {
	ProviderType string
	Message      string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("courier %s rejected request: %s", e.ProviderType, e.Message)
}

// TransportError wraps timeouts, connection failures and 5xx responses. These
// are safe to retry with backoff.
type TransportError struct {
	ProviderType string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("courier %s: transport failure: %v", e.ProviderType, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether the error is retryable: transport failures,
// deadline expiry and network-level errors qualify.
func IsTransient(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsConfig reports whether the error stems from provider configuration.
func IsConfig(err error) bool {
	var cfg *ConfigError
	return errors.As(err, &cfg) || errors.Is(err, ErrUnknownProviderType)
}

// IsRejection reports whether the courier explicitly rejected the request.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
