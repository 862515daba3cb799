package analyze

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/repair"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const (
	maxDigestParagraphs     = 25
	maxDigestContradictions = 7
	digestTruncateRunes     = 200
	maxVerifyCandidates     = 10
	entityContextRunes      = 50
)

type entityKind string

const (
	entityDuration  entityKind = "duration"
	entityPercent   entityKind = "percent"
	entityMoney     entityKind = "money"
	entityLiability entityKind = "liability"
)

type entity struct {
	kind    entityKind
	value   string
	numeric float64
	context string
	para    types.Paragraph
}

type candidate struct {
	kind   entityKind
	first  entity
	second entity
}

var (
	// \p{L} rather than \w: Go's \w is ASCII-only and never matches
	// Cyrillic word tails.
	durationPattern  = regexp.MustCompile(`(\d+)\s*(?:календарн\p{L}+\s+|рабоч\p{L}+\s+|банковск\p{L}+\s+)?(дн[яей]\p{L}*|месяц\p{L}*|год\p{L}*|лет)`)
	percentPattern   = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	moneyPattern     = regexp.MustCompile(`(\d[\d\s]*(?:[.,]\d+)?)\s*(руб\p{L}*|₽|тыс\.?\s*руб\p{L}*|млн\.?\s*руб\p{L}*)`)
	liabilityPattern = regexp.MustCompile(`(неустойк\p{L}*|пен[яиюе]\p{L}*|штраф\p{L}*|возмещени\p{L}*\s+убытк\p{L}*)`)

	contextStopwords = map[string]bool{
		"договора": true, "договору": true, "договором": true, "стороны": true,
		"сторона": true, "пункт": true, "пункта": true, "настоящего": true,
		"которые": true, "которых": true, "также": true, "либо": true,
		"момента": true, "случае": true, "течение": true,
	}
)

// extractEntities pulls comparable quantities out of the paragraphs:
// durations, percentages, money amounts and liability mentions, each
// with a window of surrounding text for topical pairing later.
func extractEntities(paras []types.Paragraph) []entity {
	var out []entity
	for _, p := range paras {
		lower := strings.ToLower(p.Text)
		runes := []rune(lower)

		collect := func(kind entityKind, pat *regexp.Regexp, numeric func(m []string) float64) {
			for _, loc := range pat.FindAllStringSubmatchIndex(lower, -1) {
				m := pat.FindStringSubmatch(lower[loc[0]:loc[1]])
				if m == nil {
					m = []string{lower[loc[0]:loc[1]]}
				}
				start := utf8Pos(lower, loc[0]) - entityContextRunes
				end := utf8Pos(lower, loc[1]) + entityContextRunes
				if start < 0 {
					start = 0
				}
				if end > len(runes) {
					end = len(runes)
				}
				out = append(out, entity{
					kind:    kind,
					value:   strings.Join(strings.Fields(lower[loc[0]:loc[1]]), " "),
					numeric: numeric(m),
					context: string(runes[start:end]),
					para:    p,
				})
			}
		}

		collect(entityDuration, durationPattern, func(m []string) float64 {
			n, _ := strconv.ParseFloat(m[1], 64)
			unit := m[2]
			switch {
			case strings.HasPrefix(unit, "месяц"):
				return n * 30
			case strings.HasPrefix(unit, "год"), strings.HasPrefix(unit, "лет"):
				return n * 365
			}
			return n
		})
		collect(entityPercent, percentPattern, func(m []string) float64 {
			n, _ := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			return n
		})
		collect(entityMoney, moneyPattern, func(m []string) float64 {
			digits := strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), ",", ".")
			n, _ := strconv.ParseFloat(digits, 64)
			if strings.Contains(m[2], "тыс") {
				n *= 1_000
			} else if strings.Contains(m[2], "млн") {
				n *= 1_000_000
			}
			return n
		})
		collect(entityLiability, liabilityPattern, func(m []string) float64 { return 0 })
	}
	return out
}

func utf8Pos(s string, byteOff int) int {
	return len([]rune(s[:byteOff]))
}

// pairCandidates matches same-kind entities from different paragraphs
// whose values disagree and whose surrounding text talks about the
// same subject. Liability mentions with distinct wording always pair,
// since two penalty clauses about the same breach are exactly the
// pattern worth checking.
func pairCandidates(entities []entity) []candidate {
	var out []candidate
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if a.kind != b.kind || a.para.ID == b.para.ID || a.value == b.value {
				continue
			}
			switch a.kind {
			case entityLiability:
				out = append(out, candidate{kind: a.kind, first: a, second: b})
			case entityPercent:
				if diff := a.numeric - b.numeric; diff > 0.1 || diff < -0.1 {
					if sharesPenaltyTopic(a, b) || sharesContext(a, b) {
						out = append(out, candidate{kind: a.kind, first: a, second: b})
					}
				}
			default:
				if sharesContext(a, b) {
					out = append(out, candidate{kind: a.kind, first: a, second: b})
				}
			}
		}
	}
	return out
}

var topicAnchors = []string{"постав", "плат", "оплат", "неустойк", "пен", "штраф"}

// sharesContext requires three common significant words, or two plus
// a domain anchor (delivery or payment vocabulary).
func sharesContext(a, b entity) bool {
	wa := contextWords(a.context)
	shared := 0
	anchored := false
	for w := range contextWords(b.context) {
		if !wa[w] {
			continue
		}
		shared++
		for _, anchor := range topicAnchors {
			if strings.HasPrefix(w, anchor) {
				anchored = true
			}
		}
	}
	return shared >= 3 || (shared >= 2 && anchored)
}

func sharesPenaltyTopic(a, b entity) bool {
	has := func(s string) bool {
		return strings.Contains(s, "неустойк") || strings.Contains(s, "пен") || strings.Contains(s, "штраф")
	}
	return has(a.context) && has(b.context)
}

func contextWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:()«»\"")
		if len([]rune(w)) < 4 || contextStopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

func kindToType(k entityKind) types.ContradictionType {
	switch k {
	case entityDuration:
		return types.ContradictionTemporal
	case entityPercent, entityMoney:
		return types.ContradictionFinancial
	case entityLiability:
		return types.ContradictionLegal
	}
	return types.ContradictionLogical
}

type digestEntry struct {
	id   string
	text string
}

// FindContradictions is best-effort: the report is more useful with
// an empty contradictions list than absent entirely, so no error
// escapes this stage. The primary path sends one bounded digest of
// classified paragraphs; when it yields nothing, the deterministic
// candidate pairs are verified one by one.
func (p *Pipeline) FindContradictions(ctx context.Context, paras []types.Paragraph, items []types.AnalysisItem) []types.Contradiction {
	log := logging.Get(logging.CategoryPipeline)

	found := p.contradictionDigest(ctx, paras, items)
	if len(found) > 0 {
		return found
	}

	candidates := pairCandidates(extractEntities(paras))
	if len(candidates) > maxVerifyCandidates {
		candidates = candidates[:maxVerifyCandidates]
	}
	var out []types.Contradiction
	for _, c := range candidates {
		ctr, ok := p.verifyCandidate(ctx, c)
		if ok {
			out = append(out, ctr)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if len(out) > 0 {
		log.Infow("contradictions confirmed from candidate pairs", "count", len(out))
	}
	return out
}

var contradictionRetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

func (p *Pipeline) contradictionDigest(ctx context.Context, paras []types.Paragraph, items []types.AnalysisItem) []types.Contradiction {
	log := logging.Get(logging.CategoryPipeline)

	digest := buildDigest(paras, items)
	if len(digest) == 0 {
		return nil
	}
	prompt := buildContradictionDigestPrompt(digest)

	for attempt := 0; ; attempt++ {
		key, err := p.pool.Next()
		if err != nil {
			return nil
		}
		resp, err := p.client.Complete(ctx, key, llm.Request{
			System:       chunkSystemPrompt,
			Prompt:       prompt,
			Temperature:  0.1,
			MaxTokens:    4096,
			JSONResponse: true,
		})
		if err == nil {
			return parseDigestResponse(resp.Content)
		}
		if ctx.Err() != nil {
			return nil
		}
		p.pool.HandleUpstreamError(key, err)
		if !retryableContradictionError(err) || attempt >= len(contradictionRetryDelays) {
			log.Warnw("contradiction digest abandoned", "error", err)
			return nil
		}
		p.report("Повторная попытка поиска противоречий", -1)
		if sleepCtx(ctx, contradictionRetryDelays[attempt]) != nil {
			return nil
		}
	}
}

// Quota exhaustion and oversized-prompt failures do not heal with
// time, so only transient network and rate-limit errors retry.
func retryableContradictionError(err error) bool {
	var upstream *llm.UpstreamAPIError
	if errors.As(err, &upstream) {
		if upstream.IsQuotaExhausted() {
			return false
		}
		msg := strings.ToLower(upstream.Message)
		if strings.Contains(msg, "token") || strings.Contains(msg, "context length") {
			return false
		}
	}
	return true
}

func buildDigest(paras []types.Paragraph, items []types.AnalysisItem) []digestEntry {
	classified := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Category != nil {
			classified[it.ID] = true
		}
	}
	var out []digestEntry
	for _, p := range paras {
		if !classified[p.ID] {
			continue
		}
		out = append(out, digestEntry{id: p.ID, text: firstRunes(p.Text, digestTruncateRunes)})
		if len(out) == maxDigestParagraphs {
			break
		}
	}
	return out
}

func parseDigestResponse(raw string) []types.Contradiction {
	var payload struct {
		Contradictions []struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Paragraph1  struct {
				Text  string `json:"text"`
				Value string `json:"value"`
			} `json:"paragraph1"`
			Paragraph2 struct {
				Text  string `json:"text"`
				Value string `json:"value"`
			} `json:"paragraph2"`
			Severity       string `json:"severity"`
			Recommendation string `json:"recommendation"`
		} `json:"contradictions"`
	}
	if !repair.ExtractObject(raw, &payload) {
		return nil
	}
	var out []types.Contradiction
	for _, c := range payload.Contradictions {
		if len(out) == maxDigestContradictions {
			break
		}
		out = append(out, types.Contradiction{
			ID:             uuid.NewString(),
			Type:           normalizeContradictionType(c.Type),
			Description:    c.Description,
			Paragraph1:     types.ConflictSide{Text: c.Paragraph1.Text, Value: c.Paragraph1.Value},
			Paragraph2:     types.ConflictSide{Text: c.Paragraph2.Text, Value: c.Paragraph2.Value},
			Severity:       normalizeSeverity(c.Severity),
			Recommendation: c.Recommendation,
		})
	}
	return out
}

func (p *Pipeline) verifyCandidate(ctx context.Context, c candidate) (types.Contradiction, bool) {
	key, err := p.pool.Next()
	if err != nil {
		return types.Contradiction{}, false
	}
	resp, err := p.client.Complete(ctx, key, llm.Request{
		System:       chunkSystemPrompt,
		Prompt:       buildVerificationPrompt(c),
		Temperature:  0.1,
		MaxTokens:    1024,
		JSONResponse: true,
	})
	if err != nil {
		p.pool.HandleUpstreamError(key, err)
		return types.Contradiction{}, false
	}
	v := repair.ExtractVerification(resp.Content)
	if !v.IsContradiction {
		return types.Contradiction{}, false
	}
	return types.Contradiction{
		ID:             uuid.NewString(),
		Type:           kindToType(c.kind),
		Description:    v.Description,
		Paragraph1:     types.ConflictSide{Text: c.first.para.Text, Value: c.first.value},
		Paragraph2:     types.ConflictSide{Text: c.second.para.Text, Value: c.second.value},
		Severity:       normalizeSeverity(v.Severity),
		Recommendation: v.Recommendation,
	}, true
}

func normalizeSeverity(s string) types.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return types.SeverityHigh
	case "low":
		return types.SeverityLow
	}
	return types.SeverityMedium
}

func normalizeContradictionType(s string) types.ContradictionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temporal":
		return types.ContradictionTemporal
	case "financial":
		return types.ContradictionFinancial
	case "quantitative":
		return types.ContradictionQuantitative
	case "legal":
		return types.ContradictionLegal
	case "procedural":
		return types.ContradictionProcedural
	case "priority":
		return types.ContradictionPriority
	}
	return types.ContradictionLogical
}
