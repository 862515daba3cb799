package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamAPIError_Predicates(t *testing.T) {
	tests := []struct {
		name        string
		err         UpstreamAPIError
		quota       bool
		rateLimited bool
	}{
		{
			name:  "402 payment required",
			err:   UpstreamAPIError{Status: 402, Message: "Payment Required"},
			quota: true,
		},
		{
			name:  "quota substring case-insensitive",
			err:   UpstreamAPIError{Status: 400, Message: "User Quota Exceeded"},
			quota: true,
		},
		{
			name:  "insufficient balance",
			err:   UpstreamAPIError{Status: 400, Code: "insufficient_balance"},
			quota: true,
		},
		{
			name:        "429 rate limit",
			err:         UpstreamAPIError{Status: 429, Message: "slow down"},
			rateLimited: true,
		},
		{
			name:        "rate limit substring",
			err:         UpstreamAPIError{Status: 503, Message: "Rate Limit reached for model"},
			rateLimited: true,
		},
		{
			name: "plain server error is neither",
			err:  UpstreamAPIError{Status: 500, Message: "internal error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.quota, tt.err.IsQuotaExhausted(), "quota")
			assert.Equal(t, tt.rateLimited, tt.err.IsRateLimited(), "rate limited")
		})
	}
}

func TestUpstreamError_ParsesEnvelope(t *testing.T) {
	raw := []byte(`{"error":{"message":"Insufficient Balance","type":"invalid_request_error","code":"invalid_request_error"}}`)
	err := upstreamError(402, raw)

	assert.Equal(t, 402, err.Status)
	assert.Equal(t, "Insufficient Balance", err.Message)
	assert.Equal(t, "invalid_request_error", err.Code)
	assert.True(t, err.IsQuotaExhausted())
}

func TestUpstreamError_FallsBackToRawBody(t *testing.T) {
	err := upstreamError(500, []byte("upstream exploded"))
	assert.Equal(t, "upstream exploded", err.Message)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": `{"ok":true}`, "reasoning_content": "thought"},
				"finish_reason": "length",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Timeout: 5 * time.Second})
	resp, err := c.Complete(context.Background(), "sk-test", Request{
		System:       "system text",
		Prompt:       "user text",
		Temperature:  0.3,
		MaxTokens:    100,
		JSONResponse: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.False(t, gotReq.Stream)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)

	// A non-"stop" finish reason is not an error, only a truncation signal.
	assert.Equal(t, "length", resp.FinishReason)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "thought", resp.Reasoning)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
}

func TestOpenAIClient_NonSuccessStatusIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Too Many Requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := c.Complete(context.Background(), "k", Request{Prompt: "x"})

	var apiErr *UpstreamAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.True(t, apiErr.IsRateLimited())
	assert.False(t, apiErr.IsQuotaExhausted())
}
