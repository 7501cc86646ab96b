package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 1 << 20

// newJSONRequest builds an outbound request with a JSON body when payload is
// non-nil. GetBody is populated by bytes.Reader so the resilience client can
// replay the body across retries.
func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// execute runs the request and reads the response body. Network failures and
// 5xx responses come back as TransportError; 4xx bodies are returned to the
// caller for courier-specific rejection handling.
func execute(ctx context.Context, client Doer, req *http.Request, providerType string) ([]byte, int, error) {
	if client == nil {
		return nil, 0, &ConfigError{ProviderType: providerType, Err: errors.New("http client not configured")}
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, 0, &TransportError{ProviderType: providerType, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, &TransportError{ProviderType: providerType, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return body, resp.StatusCode, &TransportError{
			ProviderType: providerType,
			Err:          fmt.Errorf("courier responded %s", resp.Status),
		}
	}
	return body, resp.StatusCode, nil
}

// connectionFailureMessage flattens an adapter error into the human-readable
// message TestConnection reports. Stack traces never reach the caller.
func connectionFailureMessage(err error) string {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Message
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return fmt.Sprintf("configuration error: %v", cfg.Err)
	}
	if IsTransient(err) {
		return "courier API unreachable, try again later"
	}
	if err != nil {
		return err.Error()
	}
	return "connection failed"
}
