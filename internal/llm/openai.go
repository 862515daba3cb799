package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
)

// OpenAIConfig configures the OpenAI-compatible HTTP client. BaseURL may
// point directly at the provider or at the credential-hiding proxy; the
// wire contract is identical.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient talks to any /chat/completions-shaped endpoint. The
// credential is supplied per call by the key pool, not stored on the
// client, so one client instance serves the whole pool.
type OpenAIClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		ReasoningTokens  int `json:"reasoning_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete issues one request/response pair with the given credential.
func (c *OpenAIClient) Complete(ctx context.Context, apiKey string, req Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.httpClient.Timeout)
	defer cancel()

	if apiKey == "" {
		return nil, fmt.Errorf("llm: empty API key")
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	if req.JSONResponse {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, upstreamError(resp.StatusCode, raw)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: no completion returned")
	}

	choice := parsed.Choices[0]
	logging.Get(logging.CategoryLLM).Debugw("chat completion",
		"model", c.model,
		"finish_reason", choice.FinishReason,
		"duration", time.Since(start),
		"completion_tokens", parsed.Usage.CompletionTokens)

	return &Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			ReasoningTokens:  parsed.Usage.ReasoningTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// upstreamError builds a typed error from a non-success body. Providers
// disagree on the error envelope, so parsing is best effort and the raw
// body becomes the message when nothing structured is found.
func upstreamError(status int, raw []byte) *UpstreamAPIError {
	var envelope struct {
		Error *apiErrorBody `json:"error"`
	}
	apiErr := &UpstreamAPIError{Status: status, Message: strings.TrimSpace(string(raw))}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		apiErr.Message = envelope.Error.Message
		switch code := envelope.Error.Code.(type) {
		case string:
			apiErr.Code = code
		case float64:
			apiErr.Code = fmt.Sprintf("%.0f", code)
		}
		if apiErr.Code == "" {
			apiErr.Code = envelope.Error.Type
		}
	}
	return apiErr
}
