package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Model   string
	Timeout time.Duration
}

// GeminiClient implements Client over the Google GenAI SDK. The SDK
// binds a credential at client construction, so one SDK client is built
// lazily per pool key and cached for the invocation.
type GeminiClient struct {
	model   string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a Gemini-backed chat client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiClient{
		model:   model,
		timeout: timeout,
		clients: make(map[string]*genai.Client),
	}
}

func (c *GeminiClient) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[apiKey]; ok {
		return cl, nil
	}
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	c.clients[apiKey] = cl
	return cl, nil
}

// Complete issues one request/response pair with the given credential.
func (c *GeminiClient) Complete(ctx context.Context, apiKey string, req Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	if apiKey == "" {
		return nil, fmt.Errorf("llm: empty API key")
	}

	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(req.ThinkingBudget)),
		}
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, mapGenAIError(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("llm: no completion returned")
	}

	out := &Response{
		Content:      resp.Text(),
		FinishReason: finishReasonString(resp.Candidates[0].FinishReason),
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			ReasoningTokens:  int(um.ThoughtsTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	}
	return out, nil
}

// finishReasonString maps genai finish reasons onto the normalized
// "stop"/"length" vocabulary the pipeline expects.
func finishReasonString(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(r))
	}
}

// mapGenAIError converts SDK errors into the shared typed failure so
// the key pool's classification works regardless of provider.
func mapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamAPIError{
			Status:  apiErr.Code,
			Code:    apiErr.Status,
			Message: apiErr.Message,
		}
	}
	return err
}
