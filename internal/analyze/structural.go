package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/repair"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// Below this many rule-based findings, a supplementary model review of
// suspicious liability clauses runs as well.
const defectReviewThreshold = 10

var (
	clauseNumberPattern = regexp.MustCompile(`^(\d+(?:\.\d+)+)\.?\s`)
	clauseRefPattern    = regexp.MustCompile(`(?:п\.|пункт\p{Ll}*)\s*(\d+(?:\.\d+)+)`)
)

// FindStructuralDefects checks cross-references between numbered
// clauses without any model involvement: references to absent clause
// numbers, clauses citing themselves, and two-clause reference cycles.
func FindStructuralDefects(paras []types.Paragraph) []types.StructuralDefect {
	numbers := make(map[string]string, len(paras)) // clause number -> paragraph id
	ownNumber := make(map[string]string, len(paras))
	for _, p := range paras {
		if m := clauseNumberPattern.FindStringSubmatch(p.Text); m != nil {
			numbers[m[1]] = p.ID
			ownNumber[p.ID] = m[1]
		}
	}

	refs := make(map[string][]string) // clause number -> referenced numbers
	var defects []types.StructuralDefect

	for _, p := range paras {
		own := ownNumber[p.ID]
		lower := strings.ToLower(p.Text)
		for _, m := range clauseRefPattern.FindAllStringSubmatch(lower, -1) {
			ref := m[1]
			if own != "" {
				refs[own] = append(refs[own], ref)
			}
			if _, exists := numbers[ref]; !exists {
				defects = append(defects, types.StructuralDefect{
					ID:   uuid.NewString(),
					Type: types.DefectBrokenReference,
					Description: fmt.Sprintf(
						"Пункт ссылается на несуществующий пункт %s.", ref),
					Severity:       types.SeverityHigh,
					Recommendation: brokenRefSuggestion(ref, numbers),
					Location:       p.ID,
				})
				continue
			}
			if ref == own {
				defects = append(defects, types.StructuralDefect{
					ID:   uuid.NewString(),
					Type: types.DefectSelfReference,
					Description: fmt.Sprintf(
						"Пункт %s ссылается сам на себя.", own),
					Severity:       types.SeverityMedium,
					Recommendation: "Исправить ссылку на пункт, содержащий соответствующее обязательство.",
					Location:       p.ID,
				})
			}
		}
	}

	defects = append(defects, findCycles(refs, numbers)...)
	return defects
}

// brokenRefSuggestion proposes the closest existing clause number that
// shares the longest numbering prefix with the dangling reference.
func brokenRefSuggestion(ref string, numbers map[string]string) string {
	best := ""
	bestLen := 0
	for num := range numbers {
		l := commonPrefixSegments(ref, num)
		if l > bestLen || (l == bestLen && best != "" && num < best) {
			best, bestLen = num, l
		}
	}
	if bestLen == 0 {
		return "Удалить ссылку или указать существующий пункт договора."
	}
	return fmt.Sprintf("Возможно, имелся в виду пункт %s.", best)
}

func commonPrefixSegments(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}

func findCycles(refs map[string][]string, numbers map[string]string) []types.StructuralDefect {
	var out []types.StructuralDefect
	seen := make(map[string]bool)
	for a, targets := range refs {
		for _, b := range targets {
			if a == b {
				continue
			}
			if !refersTo(refs, b, a) {
				continue
			}
			key := a + "|" + b
			if b < a {
				key = b + "|" + a
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, types.StructuralDefect{
				ID:   uuid.NewString(),
				Type: types.DefectCyclicReference,
				Description: fmt.Sprintf(
					"Пункты %s и %s ссылаются друг на друга, образуя замкнутый круг.", a, b),
				Severity:       types.SeverityHigh,
				Recommendation: "Разорвать циклическую ссылку, указав пункт с самостоятельным содержанием.",
				Location:       numbers[a],
			})
		}
	}
	return out
}

func refersTo(refs map[string][]string, from, to string) bool {
	for _, r := range refs[from] {
		if r == to {
			return true
		}
	}
	return false
}

// reviewStructure adds a model pass over suspicious liability clauses
// when the rule-based scan found little. Failures are swallowed: the
// rule-based findings already stand on their own.
func (p *Pipeline) reviewStructure(ctx context.Context, paras []types.Paragraph, found []types.StructuralDefect) []types.StructuralDefect {
	if len(found) >= defectReviewThreshold {
		return found
	}
	suspicious := suspiciousClauses(paras)
	if len(suspicious) == 0 {
		return found
	}

	key, err := p.pool.Next()
	if err != nil {
		return found
	}
	resp, err := p.client.Complete(ctx, key, llm.Request{
		System:       chunkSystemPrompt,
		Prompt:       buildStructuralPrompt(suspicious),
		Temperature:  0.1,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		p.pool.HandleUpstreamError(key, err)
		logging.Get(logging.CategoryPipeline).Debugw("structural review skipped", "error", err)
		return found
	}

	var payload struct {
		Defects []struct {
			Location       string `json:"location"`
			Description    string `json:"description"`
			Severity       string `json:"severity"`
			Recommendation string `json:"recommendation"`
		} `json:"defects"`
	}
	if !repair.ExtractObject(resp.Content, &payload) {
		return found
	}
	for _, d := range payload.Defects {
		if strings.TrimSpace(d.Description) == "" {
			continue
		}
		found = append(found, types.StructuralDefect{
			ID:             uuid.NewString(),
			Type:           types.DefectLogicalError,
			Description:    d.Description,
			Severity:       normalizeSeverity(d.Severity),
			Recommendation: d.Recommendation,
			Location:       d.Location,
		})
	}
	return found
}

// suspiciousClauses picks liability clauses that cite other clauses,
// the shape where a mis-aimed reference changes the legal meaning.
func suspiciousClauses(paras []types.Paragraph) []types.Paragraph {
	var out []types.Paragraph
	for _, p := range paras {
		lower := strings.ToLower(p.Text)
		if strings.Contains(lower, "ответственност") && clauseRefPattern.MatchString(lower) {
			out = append(out, p)
		}
	}
	return out
}
