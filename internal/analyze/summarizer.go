package analyze

import (
	"context"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/repair"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const maxSummaryItemsPerSection = 5

type summaryInput struct {
	totalParagraphs    int
	risks              []string
	deemedAcceptance   []string
	externalRefs       []string
	partial            []string
	missing            []string
	contradictions     []string
	imbalances         []string
	contradictionCount int
	imbalanceCount     int
	defectCount        int
}

func collectSummaryInput(report *types.AnalysisReport) summaryInput {
	in := summaryInput{totalParagraphs: len(report.ContractParagraphs)}

	take := func(dst *[]string, s string) {
		if s != "" && len(*dst) < maxSummaryItemsPerSection {
			*dst = append(*dst, s)
		}
	}
	for _, it := range report.Analysis {
		if it.Category == nil || it.Comment == nil {
			continue
		}
		switch *it.Category {
		case types.CategoryRisk:
			take(&in.risks, *it.Comment)
		case types.CategoryDeemedAcceptance:
			take(&in.deemedAcceptance, *it.Comment)
		case types.CategoryExternalRefs:
			take(&in.externalRefs, *it.Comment)
		case types.CategoryPartial:
			take(&in.partial, *it.Comment)
		}
	}
	for _, m := range report.MissingRequirements {
		take(&in.missing, m.Requirement)
	}
	for _, c := range report.Contradictions {
		take(&in.contradictions, c.Description)
	}
	in.contradictionCount = len(report.Contradictions)
	if report.RightsImbalance != nil {
		for _, f := range report.RightsImbalance.Findings {
			take(&in.imbalances, f.Description)
		}
		in.imbalanceCount = len(report.RightsImbalance.Findings)
	}
	in.defectCount = len(report.StructuralDefects)
	return in
}

// summarize produces the closing narrative with a single model call.
// No retry: by this point every substantive finding already sits in
// the report, and a templated fallback summary is cheaper than another
// round trip against a possibly drained pool.
func (p *Pipeline) summarize(ctx context.Context, report *types.AnalysisReport) *types.FinalSummary {
	input := collectSummaryInput(report)
	fallback := fallbackSummary(input)

	key, err := p.pool.Next()
	if err != nil {
		return fallback
	}
	resp, err := p.client.Complete(ctx, key, llm.Request{
		System:       chunkSystemPrompt,
		Prompt:       buildSummaryPrompt(input),
		Temperature:  0.3,
		MaxTokens:    4096,
		JSONResponse: true,
	})
	if err != nil {
		p.pool.HandleUpstreamError(key, err)
		logging.Get(logging.CategoryPipeline).Warnw("summary call failed, using fallback", "error", err)
		return fallback
	}

	var s types.FinalSummary
	if !repair.ExtractObject(resp.Content, &s) || s.OverallAssessment == "" {
		return fallback
	}
	if len(s.KeyRisks) == 0 {
		s.KeyRisks = input.risks
	}
	return &s
}

func fallbackSummary(in summaryInput) *types.FinalSummary {
	assessment := "Договор требует доработки: выявлены замечания, перечисленные в отчете."
	if len(in.risks) == 0 && len(in.missing) == 0 && in.contradictionCount == 0 {
		assessment = "Существенных замечаний по договору не выявлено."
	}
	return &types.FinalSummary{
		OverallAssessment: assessment,
		KeyRisks:          in.risks,
		StructureComments: "Автоматическое заключение сформировано без итогового обзора модели.",
		LegalCompliance:   "Соответствие требованиям отражено в постатейном анализе.",
		Recommendations:   in.missing,
	}
}
