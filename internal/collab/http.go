package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 16 << 20

// HTTP posts requests as JSON to an endpoint. The reply is a JSON object
// with "output" on success or "error" and "retryable" on failure; an
// optional "context" object is merged into the shared context.
type HTTP struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	maxBody  int64
}

// HTTPOption configures an HTTP collaborator.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		h.headers[key] = value
	}
}

// NewHTTP creates an HTTP collaborator for endpoint. Per-call deadlines come
// from the context; the client timeout is only a backstop.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Minute},
		headers:  make(map[string]string),
		maxBody:  maxResponseBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Call posts req and decodes the reply.
func (h *HTTP) Call(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, Permanent("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, Permanent("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, Retryable("post "+h.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, Retryable("read response", err)
	}
	if int64(len(data)) > h.maxBody {
		return Response{}, Permanent(fmt.Sprintf("response too large: exceeds %d bytes", h.maxBody), nil)
	}

	return decodeHTTP(resp.StatusCode, data)
}

func decodeHTTP(status int, data []byte) (Response, error) {
	valid := gjson.ValidBytes(data)
	parsed := gjson.ParseBytes(data)

	if status < 200 || status > 299 {
		msg := fmt.Sprintf("collaborator returned status %d", status)
		if valid {
			if e := parsed.Get("error"); e.Exists() {
				msg += ": " + e.String()
			}
		}
		retryable := retryableStatus(status)
		if r := parsed.Get("retryable"); valid && r.Exists() {
			retryable = r.Bool()
		}
		return Response{}, &Error{Message: msg, Retryable: retryable}
	}

	if !valid {
		return Response{}, Retryable("malformed response: invalid JSON", nil)
	}

	if e := parsed.Get("error"); e.Exists() && e.String() != "" {
		return Response{}, &Error{Message: e.String(), Retryable: parsed.Get("retryable").Bool()}
	}

	out := parsed.Get("output")
	if !out.Exists() {
		return Response{}, Retryable("malformed response: missing output", nil)
	}

	resp := Response{Output: out.String()}
	if c := parsed.Get("context"); c.IsObject() {
		if m, ok := c.Value().(map[string]interface{}); ok {
			resp.Context = m
		}
	}
	return resp, nil
}
