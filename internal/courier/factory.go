package courier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-dokan/internal/repo"
)

// Factory constructs the adapter matching a stored provider record. Credential
// and config blobs are decoded and validated here, before any network call, so
// configuration mistakes never masquerade as courier outages.
type Factory struct {
	HTTP     Doer
	Validate *validator.Validate
}

// NewFactory returns a factory whose adapters share the provided HTTP client.
func NewFactory(client Doer) *Factory {
	return &Factory{HTTP: client, Validate: validator.New()}
}

// Create selects and constructs the adapter for the record's type tag.
func (f *Factory) Create(record repo.Provider) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(record.Type)) {
	case TypePathao:
		var creds PathaoCredentials
		var cfg PathaoConfig
		if err := f.decode(TypePathao, record.Credentials, &creds); err != nil {
			return nil, err
		}
		if err := f.decode(TypePathao, record.Config, &cfg); err != nil {
			return nil, err
		}
		return NewPathao(creds, cfg, f.HTTP), nil
	case TypeSteadfast:
		var creds SteadfastCredentials
		var cfg SteadfastConfig
		if err := f.decode(TypeSteadfast, record.Credentials, &creds); err != nil {
			return nil, err
		}
		if len(record.Config) > 0 {
			if err := f.decode(TypeSteadfast, record.Config, &cfg); err != nil {
				return nil, err
			}
		}
		return NewSteadfast(creds, cfg, f.HTTP), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, record.Type)
	}
}

func (f *Factory) decode(providerType string, blob []byte, target any) error {
	if len(blob) == 0 {
		return &ConfigError{ProviderType: providerType, Err: errors.New("empty credential/config blob")}
	}
	decoder := json.NewDecoder(bytes.NewReader(blob))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return &ConfigError{ProviderType: providerType, Err: fmt.Errorf("decode json: %w", err)}
	}
	if f.Validate != nil {
		if err := f.Validate.Struct(target); err != nil {
			return &ConfigError{ProviderType: providerType, Err: fmt.Errorf("missing required fields: %w", err)}
		}
	}
	return nil
}
