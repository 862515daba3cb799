// Package llm issues single chat-completion request/response pairs
// against the upstream model provider and normalizes its inconsistent
// error taxonomy into typed failures the pipeline can classify.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request carries the parameters of one model call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONResponse asks the provider to constrain output to JSON.
	// Providers that reject the constraint still work; the repair layer
	// absorbs prose-wrapped output either way.
	JSONResponse bool
	// ThinkingBudget caps reasoning tokens where the provider supports
	// it; 0 leaves the provider default.
	ThinkingBudget int
}

// Usage reports token accounting from the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one completed model call. A non-"stop" FinishReason (for
// example "length") is not a failure: it signals that Content may be
// truncated and repair will likely be needed.
type Response struct {
	Content      string
	Reasoning    string
	FinishReason string
	Usage        Usage
}

// Client issues one model request given a credential. Implementations
// must be safe for concurrent use; the scheduler fans calls out across
// a batch of chunk analyses.
type Client interface {
	Complete(ctx context.Context, apiKey string, req Request) (*Response, error)
}

// UpstreamAPIError is a non-success response from the provider. The
// pipeline never branches on raw status codes; it uses the derived
// predicates, because upstream error taxonomies are inconsistent.
type UpstreamAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamAPIError) Error() string {
	return fmt.Sprintf("upstream api error: status=%d code=%q message=%q", e.Status, e.Code, e.Message)
}

var quotaMarkers = []string{
	"quota", "exhausted", "insufficient", "balance", "billing", "credit",
}

var rateLimitMarkers = []string{
	"rate limit", "rate_limit", "too many requests", "resource has been exhausted", "tps limit",
}

// IsQuotaExhausted reports whether the credential that produced this
// error should be retired for the rest of the invocation.
func (e *UpstreamAPIError) IsQuotaExhausted() bool {
	if e.Status == 402 || e.Status == 403 {
		return true
	}
	return containsAny(e.haystack(), quotaMarkers)
}

// IsRateLimited reports whether the provider throttled the request; the
// credential stays usable and the call should be retried after rotation.
func (e *UpstreamAPIError) IsRateLimited() bool {
	if e.Status == 429 {
		return true
	}
	return containsAny(e.haystack(), rateLimitMarkers)
}

func (e *UpstreamAPIError) haystack() string {
	return strings.ToLower(e.Code + " " + e.Message)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// withDefaultTimeout applies the client timeout when the caller's
// context carries no deadline, so one hung network call cannot stall a
// whole batch.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
