// Package analyze orchestrates the contract review: segmentation,
// concurrent chunk analysis over a credential pool, and the derived
// stages (missing requirements, contradictions, rights imbalance,
// structural defects, summary) that assemble the final report.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/config"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/keypool"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/segment"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// ErrEmptyContract is returned when segmentation finds no analyzable
// paragraphs in the input.
var ErrEmptyContract = errors.New("контракт пуст или не содержит анализируемых пунктов")

// Pipeline runs the full analysis. One Pipeline is safe for sequential
// reuse; a single Analyze call fans out internally.
type Pipeline struct {
	client   llm.Client
	pool     *keypool.Pool
	cfg      config.PipelineConfig
	progress types.ProgressFunc
}

type Option func(*Pipeline)

// WithProgress registers an observer for stage transitions. percent is
// -1 for stages with no meaningful completion ratio.
func WithProgress(fn types.ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

func New(client llm.Client, pool *keypool.Pool, cfg config.PipelineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{client: client, pool: pool, cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) report(stage string, percent int) {
	if p.progress != nil {
		p.progress(stage, percent)
	}
}

// Analyze reviews the contract text against the checklist from the
// given party's perspective and returns the complete report. The main
// per-paragraph classification is all-or-nothing; the derived stages
// that follow it are best-effort and degrade to empty sections.
func (p *Pipeline) Analyze(ctx context.Context, contract, checklist string, perspective types.Perspective) (*types.AnalysisReport, error) {
	log := logging.Get(logging.CategoryPipeline)

	p.report("Разбивка договора на пункты", 0)
	paras := segment.Split(contract)
	if len(paras) == 0 {
		return nil, ErrEmptyContract
	}
	chunks := segment.BuildChunks(paras, p.cfg.MaxTokensPerChunk, p.cfg.OverlapSentences)
	log.Infow("contract segmented", "paragraphs", len(paras), "chunks", len(chunks))

	p.report("Анализ фрагментов", 10)
	results, err := p.runAllChunks(ctx, chunks, checklist, perspective)
	if err != nil {
		return nil, translateError(err)
	}

	report := &types.AnalysisReport{ContractParagraphs: paras}
	for _, r := range results {
		report.Analysis = append(report.Analysis, r.Analysis...)
	}
	report.Analysis = repairNullCategories(report.Analysis)
	for _, it := range report.Analysis {
		if it.Category != nil && *it.Category == types.CategoryAmbiguous {
			report.AmbiguousConditions = append(report.AmbiguousConditions, it)
		}
	}

	p.report("Проверка чек-листа", 72)
	report.MissingRequirements = FindMissingRequirements(checklist, report.Analysis)

	p.report("Поиск противоречий", 78)
	report.Contradictions = p.FindContradictions(ctx, paras, report.Analysis)

	p.report("Анализ баланса прав сторон", 85)
	candidates := SelectRightsCandidates(paras, report.Analysis, perspective, p.cfg.RightsCandidates)
	clauses := p.classifyRights(ctx, candidates)
	texts := paragraphTexts(paras)
	if len(clauses) > 0 {
		report.RightsImbalance = AggregateRights(clauses, texts)
	} else {
		report.RightsImbalance = RightsFromChunkTallies(results, texts)
	}

	p.report("Проверка структуры договора", 92)
	defects := FindStructuralDefects(paras)
	report.StructuralDefects = p.reviewStructure(ctx, paras, defects)

	p.report("Итоговое заключение", 96)
	report.StructuralAnalysis = p.summarize(ctx, report)

	p.report("Готово", 100)
	return report, nil
}

func paragraphTexts(paras []types.Paragraph) map[string]string {
	out := make(map[string]string, len(paras))
	for _, p := range paras {
		out[p.ID] = p.Text
	}
	return out
}

// translateError maps infrastructure failures onto messages a contract
// lawyer can act on. The original error stays wrapped for logs.
func translateError(err error) error {
	switch {
	case errors.Is(err, keypool.ErrAllKeysExhausted), errors.Is(err, keypool.ErrNoKeys):
		return fmt.Errorf("квоты всех API-ключей исчерпаны, попробуйте позже или добавьте ключи: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("сервис анализа не ответил вовремя, повторите попытку: %w", err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var upstream *llm.UpstreamAPIError
	if errors.As(err, &upstream) {
		switch {
		case upstream.IsQuotaExhausted():
			return fmt.Errorf("квота API-ключа исчерпана: %w", err)
		case upstream.IsRateLimited():
			return fmt.Errorf("сервис анализа перегружен, повторите попытку через минуту: %w", err)
		case strings.Contains(strings.ToLower(upstream.Message), "block"):
			return fmt.Errorf("запрос отклонен фильтром содержимого сервиса анализа: %w", err)
		}
	}

	var chunkErr *ChunkAnalysisError
	if errors.As(err, &chunkErr) {
		return fmt.Errorf("не удалось проанализировать часть договора, повторите попытку: %w", err)
	}
	return fmt.Errorf("ошибка анализа договора: %w", err)
}
