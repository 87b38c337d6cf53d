package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"retryable error", Retryable("rate limited", nil), true},
		{"permanent error", Permanent("bad request", nil), false},
		{"unknown error", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Retryable("post http://x", cause)

	assert.Equal(t, "post http://x: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bare", (&Error{Message: "bare"}).Error())
}

func TestFuncAdapter(t *testing.T) {
	var c Collaborator = Func(func(_ context.Context, req Request) (Response, error) {
		return Response{Output: "done " + req.TaskID}, nil
	})
	resp, err := c.Call(context.Background(), Request{TaskID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, "done task-1", resp.Output)
}

func TestBuildPrompt(t *testing.T) {
	req := Request{
		TaskID:      "task-3",
		Title:       "Wire handlers",
		Description: "Connect routes to the service layer.",
		Context: map[string]any{
			"task.tags":          []string{"interface", "feature"},
			"deps.task-1.output": "schema.sql written",
			"deps.task-2.output": "service.go written",
		},
		Shared:       map[string]any{"lang": "go", "_summary": map[string]any{}},
		PriorFailure: "timeout",
		Attempt:      2,
	}

	prompt := BuildPrompt(req)

	assert.Contains(t, prompt, "## Task task-3: Wire handlers")
	assert.Contains(t, prompt, "Connect routes")
	assert.Contains(t, prompt, "Tags: interface, feature")
	assert.Contains(t, prompt, "### task-1\nschema.sql written")
	assert.Less(t, strings.Index(prompt, "task-1"), strings.Index(prompt, "### task-2"))
	assert.Contains(t, prompt, "Shared context keys: lang")
	assert.NotContains(t, prompt, "_summary")
	assert.Contains(t, prompt, "Previous attempt failed (attempt 1)")
}

func TestHTTPSuccess(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"generated","context":{"task-1.file":"main.go"}}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithHeader("X-Token", "secret"))
	resp, err := h.Call(context.Background(), Request{TaskID: "task-1", Title: "Init", Attempt: 1})

	require.NoError(t, err)
	assert.Equal(t, "generated", resp.Output)
	assert.Equal(t, "main.go", resp.Context["task-1.file"])
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, 1, got.Attempt)
}

func TestHTTPFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, true},
		{"rate limited", http.StatusTooManyRequests, ``, true},
		{"bad request", http.StatusBadRequest, `{"error":"invalid task"}`, false},
		{"body overrides status", http.StatusBadRequest, `{"error":"try later","retryable":true}`, true},
		{"reported failure", http.StatusOK, `{"error":"lint failed","retryable":false}`, false},
		{"reported retryable", http.StatusOK, `{"error":"busy","retryable":true}`, true},
		{"missing output", http.StatusOK, `{"status":"ok"}`, true},
		{"invalid json", http.StatusOK, `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL).Call(context.Background(), Request{TaskID: "t"})
			require.Error(t, err)

			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.retryable, ce.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestHTTPResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":"far more than sixteen bytes"}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	h.maxBody = 16

	_, err := h.Call(context.Background(), Request{TaskID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response too large")
	assert.False(t, IsRetryable(err))

	h.maxBody = 64
	resp, err := h.Call(context.Background(), Request{TaskID: "t"})
	require.NoError(t, err)
	assert.Equal(t, "far more than sixteen bytes", resp.Output)
}

func TestHTTPHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTP(srv.URL).Call(ctx, Request{TaskID: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsRetryable(err))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(529))
	assert.True(t, retryableStatus(503))
	assert.True(t, retryableStatus(429))
	assert.False(t, retryableStatus(401))
	assert.False(t, retryableStatus(404))
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, "us.anthropic.claude-sonnet-4-20250514-v1:0", string(bedrockModel("claude-sonnet-4-20250514")))
	assert.Equal(t, "custom-model", string(bedrockModel("custom-model")))
	assert.Equal(t, "us.anthropic.x", string(bedrockModel("us.anthropic.x")))
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic(context.Background(), AnthropicConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	a, err := NewAnthropic(context.Background(), AnthropicConfig{APIKey: "k", Model: "claude-3-5-haiku-20241022"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", a.Model())
	assert.Equal(t, 0, a.Usage().Calls())
}
