package analyze

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/repair"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// ChunkAnalysisError reports which chunk could not be analyzed after
// all attempts, so a caller can tell a dead chunk from a dead pool.
type ChunkAnalysisError struct {
	ChunkID string
	Err     error
}

func (e *ChunkAnalysisError) Error() string {
	return fmt.Sprintf("chunk %s: analysis failed after retries: %v", e.ChunkID, e.Err)
}

func (e *ChunkAnalysisError) Unwrap() error { return e.Err }

// analyzeChunk runs one chunk through the model with a bounded retry
// loop. Every attempt takes a fresh key from the pool, so a rotation
// happens even when the previous key was healthy.
func (p *Pipeline) analyzeChunk(ctx context.Context, chunk types.Chunk, checklist string, perspective types.Perspective) (types.ChunkResult, error) {
	log := logging.Get(logging.CategoryScheduler)
	prompt := buildChunkPrompt(chunk, checklist, perspective)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		key, err := p.pool.Next()
		if err != nil {
			// ErrAllKeysExhausted propagates as-is so the caller can
			// distinguish a drained pool from a dead chunk.
			return types.ChunkResult{}, err
		}

		resp, err := p.client.Complete(ctx, key, llm.Request{
			System:       chunkSystemPrompt,
			Prompt:       prompt,
			Temperature:  0.1,
			MaxTokens:    8192,
			JSONResponse: true,
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return types.ChunkResult{}, ctx.Err()
			}
			if p.pool.HandleUpstreamError(key, err) {
				// Rotation alone cures rate limits, a short pause
				// keeps the next key from hitting the same window.
				log.Warnw("chunk attempt hit rate limit, rotating key",
					"chunk", chunk.ID, "attempt", attempt)
				if err := sleepCtx(ctx, time.Second); err != nil {
					return types.ChunkResult{}, err
				}
				continue
			}
			log.Warnw("chunk attempt failed",
				"chunk", chunk.ID, "attempt", attempt, "error", err)
			if attempt < p.cfg.MaxAttempts {
				if err := sleepCtx(ctx, time.Duration(attempt)*2*time.Second); err != nil {
					return types.ChunkResult{}, err
				}
			}
			continue
		}

		result := repair.ExtractChunkResult(resp.Content)
		if result.ChunkID == repair.ChunkIDFailed && len(result.Analysis) == 0 {
			lastErr = fmt.Errorf("unparsable model response for chunk %s", chunk.ID)
			log.Warnw("chunk response unparsable", "chunk", chunk.ID, "attempt", attempt)
			continue
		}
		result.ChunkID = chunk.ID
		result.Analysis = dropSyntheticItems(result.Analysis)
		return result, nil
	}
	return types.ChunkResult{}, &ChunkAnalysisError{ChunkID: chunk.ID, Err: lastErr}
}

// dropSyntheticItems removes verdicts the model issued against overlap
// paragraphs despite the prompt telling it not to.
func dropSyntheticItems(items []types.AnalysisItem) []types.AnalysisItem {
	out := items[:0]
	for _, it := range items {
		if strings.HasPrefix(it.ID, "overlap") {
			continue
		}
		out = append(out, it)
	}
	return out
}

// repairNullCategories resolves items where the model supplied a
// comment or recommendation but no category. Text with no verdict
// still signals the model saw something worth flagging, so the item
// becomes ambiguous instead of staying in an inconsistent shape.
func repairNullCategories(items []types.AnalysisItem) []types.AnalysisItem {
	for i := range items {
		if items[i].Category != nil {
			continue
		}
		if hasText(items[i].Comment) || hasText(items[i].Recommendation) {
			c := types.CategoryAmbiguous
			items[i].Category = &c
		}
	}
	return items
}

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
