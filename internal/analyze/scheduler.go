package analyze

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const (
	interBatchDelay      = 2 * time.Second
	interBatchDelayShort = 500 * time.Millisecond
	// Below this pool size the scheduler assumes shared per-key rate
	// windows and spaces batches further apart.
	relaxedDelayPoolSize = 3
)

// runAllChunks processes chunks in concurrent batches. Batch size is
// capped by both the configured limit and the number of live keys, so
// two goroutines never contend for the same credential inside a batch.
// A single failed chunk fails the whole run: the report format has no
// representation for a partially analyzed contract.
func (p *Pipeline) runAllChunks(ctx context.Context, chunks []types.Chunk, checklist string, perspective types.Perspective) ([]types.ChunkResult, error) {
	log := logging.Get(logging.CategoryScheduler)
	results := make([]types.ChunkResult, len(chunks))

	delay := interBatchDelay
	if p.pool.Available() >= relaxedDelayPoolSize {
		delay = interBatchDelayShort
	}

	done := 0
	for start := 0; start < len(chunks); {
		batch := p.cfg.BatchCap
		if avail := p.pool.Available(); avail < batch {
			batch = avail
		}
		if batch < 1 {
			batch = 1
		}
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				res, err := p.analyzeChunk(gctx, chunks[i], checklist, perspective)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		done = end
		log.Infow("batch complete", "done", done, "total", len(chunks))
		p.report("Анализ фрагментов", 10+done*60/len(chunks))

		start = end
		if start < len(chunks) {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}
