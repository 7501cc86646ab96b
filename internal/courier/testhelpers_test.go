package courier_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
)

type stubResponse struct {
	status int
	body   string
}

// stubDoer is a scripted HTTP client keyed by "METHOD path". Every request is
// recorded so tests can assert on headers and bodies.
type stubDoer struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	requests  []*http.Request
	bodies    [][]byte
	err       error
}

func newStubDoer() *stubDoer {
	return &stubDoer{responses: make(map[string]stubResponse)}
}

func (d *stubDoer) on(method, path string, status int, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[method+" "+path] = stubResponse{status: status, body: body}
}

func (d *stubDoer) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)
	resp, ok := d.responses[req.Method+" "+req.URL.Path]
	if !ok {
		resp = stubResponse{status: http.StatusNotFound, body: `{"message":"no route"}`}
	}
	return &http.Response{
		StatusCode: resp.status,
		Status:     http.StatusText(resp.status),
		Body:       io.NopCloser(bytes.NewReader([]byte(resp.body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

func (d *stubDoer) callCount(method, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, req := range d.requests {
		if req.Method == method && req.URL.Path == path {
			count++
		}
	}
	return count
}

func (d *stubDoer) lastRequest() *http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return nil
	}
	return d.requests[len(d.requests)-1]
}

func (d *stubDoer) lastBody() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.bodies) == 0 {
		return nil
	}
	return d.bodies[len(d.bodies)-1]
}
