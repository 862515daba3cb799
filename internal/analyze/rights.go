package analyze

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/repair"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const rightsBatchSize = 5

// rightsKeywords score paragraphs that likely carry a party right.
// Stems rather than full forms, matched against lowercased text.
var rightsKeywords = []struct {
	stem   string
	weight int
}{
	{"вправе", 3},
	{"имеет право", 3},
	{"односторон", 3},
	{"расторж", 2},
	{"отказ", 2},
	{"изменени", 2},
	{"неустойк", 2},
	{"штраф", 2},
	{"пен", 1},
	{"контрол", 2},
	{"провер", 1},
	{"требова", 1},
	{"обязан", 1},
}

var boilerplateStems = []string{
	"в соответствии с действующим законодательством",
	"руководствуясь нормами",
	"реквизиты сторон",
}

// scoreRightsCandidate ranks how likely a paragraph is to carry a
// classifiable party right. Keyword stems give the base score, a
// paragraph the chunk analysis already flagged gets a bonus, a mention
// of the analyzed party's counterparty gets another, and boilerplate
// phrasing is penalized.
func scoreRightsCandidate(p types.Paragraph, category *types.Category, perspective types.Perspective) int {
	lower := strings.ToLower(p.Text)
	score := 0
	for _, kw := range rightsKeywords {
		if strings.Contains(lower, kw.stem) {
			score += kw.weight
		}
	}
	if category != nil {
		switch *category {
		case types.CategoryRisk, types.CategoryDeemedAcceptance:
			score += 3
		case types.CategoryPartial, types.CategoryAmbiguous:
			score += 1
		}
	}
	counterparty := "поставщик"
	if perspective == types.PerspectiveSupplier {
		counterparty = "покупатель"
	}
	if strings.Contains(lower, counterparty) {
		score += 2
	}
	for _, bp := range boilerplateStems {
		if strings.Contains(lower, bp) {
			score -= 2
		}
	}
	return score
}

// SelectRightsCandidates picks the highest-scoring paragraphs for
// classification, capped at limit. Ties keep document order, so the
// selection is stable for a given contract.
func SelectRightsCandidates(paras []types.Paragraph, items []types.AnalysisItem, perspective types.Perspective, limit int) []types.Paragraph {
	byID := make(map[string]*types.Category, len(items))
	for _, it := range items {
		byID[it.ID] = it.Category
	}

	type scored struct {
		para  types.Paragraph
		score int
		order int
	}
	var cands []scored
	for i, p := range paras {
		if p.Synthetic {
			continue
		}
		s := scoreRightsCandidate(p, byID[p.ID], perspective)
		if s <= 0 {
			continue
		}
		cands = append(cands, scored{para: p, score: s, order: i})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].order < cands[j].order
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].order < cands[j].order })

	out := make([]types.Paragraph, len(cands))
	for i, c := range cands {
		out[i] = c.para
	}
	return out
}

// classifyRights tags candidate paragraphs in small batches. An empty
// or unparsable batch response is retried once on a rotated key; a
// batch that fails twice is skipped rather than failing the stage.
func (p *Pipeline) classifyRights(ctx context.Context, candidates []types.Paragraph) []types.ClassifiedClause {
	log := logging.Get(logging.CategoryPipeline)
	var clauses []types.ClassifiedClause
	seen := make(map[string]bool)

	for start := 0; start < len(candidates); start += rightsBatchSize {
		end := start + rightsBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		var tagged []types.ClassifiedClause
		for try := 0; try < 2; try++ {
			tagged = p.classifyBatch(ctx, batch)
			if len(tagged) > 0 || ctx.Err() != nil {
				break
			}
			log.Debugw("empty rights batch, retrying on next key", "batch_start", start)
		}
		for _, c := range tagged {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			clauses = append(clauses, c)
		}
	}
	return clauses
}

func (p *Pipeline) classifyBatch(ctx context.Context, batch []types.Paragraph) []types.ClassifiedClause {
	key, err := p.pool.Next()
	if err != nil {
		return nil
	}
	resp, err := p.client.Complete(ctx, key, llm.Request{
		System:       chunkSystemPrompt,
		Prompt:       buildRightsPrompt(batch),
		Temperature:  0,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		p.pool.HandleUpstreamError(key, err)
		return nil
	}
	var payload struct {
		Clauses []types.ClassifiedClause `json:"clauses"`
	}
	if !repair.ExtractObject(resp.Content, &payload) {
		return nil
	}
	return payload.Clauses
}

// RightsFromChunkTallies builds the imbalance report out of the
// per-chunk rights tallies when the dedicated classification pass
// produced nothing (drained pool, empty batches). The tallies ride
// along with every chunk analysis anyway, so a degraded run still
// reports per-party counts instead of an empty section.
func RightsFromChunkTallies(results []types.ChunkResult, textByID map[string]string) *types.RightsImbalanceReport {
	var clauses []types.ClassifiedClause
	seen := make(map[string]bool)
	buyer, supplier := 0, 0
	for _, r := range results {
		if r.Rights == nil {
			continue
		}
		buyer += r.Rights.BuyerRightsCount
		supplier += r.Rights.SupplierRightsCount
		for _, c := range r.Rights.ClassifiedClauses {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			clauses = append(clauses, c)
		}
	}

	report := AggregateRights(clauses, textByID)
	// The tallies may count rights in clauses the model never tagged
	// individually; keep the larger figure per party.
	if buyer > report.BuyerRights {
		report.BuyerRights = buyer
	}
	if supplier > report.SupplierRights {
		report.SupplierRights = supplier
	}
	return report
}

var rightSanityStems = map[types.RightType][]string{
	types.RightModification: {"измен", "односторон"},
	types.RightTermination:  {"расторж", "расторг", "отказ"},
	types.RightControl:      {"контрол", "провер"},
}

// AggregateRights turns classified clauses into per-party counts and
// imbalance findings without a further model call. Liability
// asymmetries are reported whenever the counts differ; for unilateral
// rights (modification, termination, control) a finding needs one side
// at zero, the other above it, and the clause text to actually contain
// the category's vocabulary so a stray tag cannot fabricate a finding.
func AggregateRights(clauses []types.ClassifiedClause, textByID map[string]string) *types.RightsImbalanceReport {
	report := &types.RightsImbalanceReport{Clauses: clauses}
	byType := make(map[types.RightType][]types.ClassifiedClause)
	for _, c := range clauses {
		switch c.Party {
		case types.PartyBuyer:
			report.BuyerRights++
		case types.PartySupplier:
			report.SupplierRights++
		case types.PartyBoth:
			report.BuyerRights++
			report.SupplierRights++
		}
		byType[c.Type] = append(byType[c.Type], c)
	}

	if f, ok := liabilityFinding(byType[types.RightLiability]); ok {
		report.Findings = append(report.Findings, f)
	}
	for _, rt := range []types.RightType{types.RightModification, types.RightTermination, types.RightControl} {
		if f, ok := unilateralFinding(rt, byType[rt], textByID); ok {
			report.Findings = append(report.Findings, f)
		}
	}
	return report
}

func splitByParty(clauses []types.ClassifiedClause) (buyer, supplier []types.ClassifiedClause) {
	for _, c := range clauses {
		switch c.Party {
		case types.PartyBuyer:
			buyer = append(buyer, c)
		case types.PartySupplier:
			supplier = append(supplier, c)
		case types.PartyBoth:
			buyer = append(buyer, c)
			supplier = append(supplier, c)
		}
	}
	return buyer, supplier
}

func liabilityFinding(clauses []types.ClassifiedClause) (types.RightsImbalanceFinding, bool) {
	buyer, supplier := splitByParty(clauses)
	if len(buyer) == len(supplier) {
		return types.RightsImbalanceFinding{}, false
	}
	diff := len(buyer) - len(supplier)
	if diff < 0 {
		diff = -diff
	}
	sev := types.SeverityMedium
	if diff > 1 {
		sev = types.SeverityHigh
	}
	burdened := "покупателя"
	if len(supplier) > len(buyer) {
		burdened = "поставщика"
	}
	return types.RightsImbalanceFinding{
		ID:   uuid.NewString(),
		Type: types.RightLiability,
		Description: fmt.Sprintf(
			"Ответственность сторон несимметрична: %d условий об ответственности покупателя против %d об ответственности поставщика.",
			len(buyer), len(supplier)),
		BuyerRights:     len(buyer),
		SupplierRights:  len(supplier),
		Severity:        sev,
		Recommendation:  "Выровнять меры ответственности сторон за сопоставимые нарушения в пользу " + burdened + ".",
		BuyerClauses:    buyer,
		SupplierClauses: supplier,
	}, true
}

var rightTypeLabels = map[types.RightType]string{
	types.RightModification: "одностороннее изменение условий",
	types.RightTermination:  "расторжение договора или отказ от него",
	types.RightControl:      "контроль исполнения",
}

func unilateralFinding(rt types.RightType, clauses []types.ClassifiedClause, textByID map[string]string) (types.RightsImbalanceFinding, bool) {
	sane := clauses[:0:0]
	for _, c := range clauses {
		if clauseMentions(textByID[c.ID], rightSanityStems[rt]) {
			sane = append(sane, c)
		}
	}
	buyer, supplier := splitByParty(sane)
	if (len(buyer) == 0) == (len(supplier) == 0) {
		return types.RightsImbalanceFinding{}, false
	}
	holder := "покупателю"
	if len(supplier) > 0 {
		holder = "поставщику"
	}
	return types.RightsImbalanceFinding{
		ID:   uuid.NewString(),
		Type: rt,
		Description: fmt.Sprintf("Право на %s предоставлено только %s (%d условий).",
			rightTypeLabels[rt], holder, len(buyer)+len(supplier)),
		BuyerRights:     len(buyer),
		SupplierRights:  len(supplier),
		Severity:        types.SeverityMedium,
		Recommendation:  "Предусмотреть аналогичное право для второй стороны либо компенсирующий механизм.",
		BuyerClauses:    buyer,
		SupplierClauses: supplier,
	}, true
}

func clauseMentions(text string, stems []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, s := range stems {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
