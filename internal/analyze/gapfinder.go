package analyze

import (
	"strings"
	"unicode/utf8"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const minRequirementLen = 10

// parseChecklist splits free-form checklist text into individual
// requirements. Bullet and numbering prefixes are stripped; lines too
// short to be a requirement are dropped.
func parseChecklist(checklist string) []string {
	var reqs []string
	for _, line := range strings.Split(checklist, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•–—")
		line = trimNumberPrefix(line)
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minRequirementLen {
			continue
		}
		reqs = append(reqs, line)
	}
	return reqs
}

func trimNumberPrefix(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return s
	}
	rest := s[i:]
	if strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, ")") {
		return rest[1:]
	}
	return s
}

// FindMissingRequirements compares the checklist against the marker
// comments the chunk analysis produced. A requirement counts as
// covered when some checklist/partial comment echoes it, matched
// either by its leading 50 runes or by its first three significant
// words. Everything else is reported as missing. No model call is
// involved, so the result is reproducible for a given analysis.
func FindMissingRequirements(checklist string, items []types.AnalysisItem) []types.MissingRequirement {
	reqs := parseChecklist(checklist)
	if len(reqs) == 0 {
		return nil
	}

	var echoes []string
	for _, it := range items {
		if it.Category == nil || it.Comment == nil {
			continue
		}
		if *it.Category != types.CategoryChecklist && *it.Category != types.CategoryPartial {
			continue
		}
		c := *it.Comment
		for _, marker := range []string{markerChecklist, markerPartial} {
			if idx := strings.Index(c, marker); idx >= 0 {
				echoes = append(echoes, strings.ToLower(strings.TrimSpace(c[idx+len(marker):])))
			}
		}
	}

	var missing []types.MissingRequirement
	for _, req := range reqs {
		if !requirementCovered(req, echoes) {
			missing = append(missing, types.MissingRequirement{
				Requirement: req,
				Comment:     "Требование не отражено в договоре. Рекомендуется добавить условие: " + req,
			})
		}
	}
	return missing
}

// A requirement counts as covered when an echo contains its leading 50
// runes, or any one of its first three content words. Single-word
// matching is deliberately loose: the model paraphrases requirements,
// and a false "covered" is cheaper here than flooding the report with
// requirements the contract does address.
func requirementCovered(req string, echoes []string) bool {
	lower := strings.ToLower(req)
	head := firstRunes(lower, 50)
	words := significantWords(lower, 3)

	for _, echo := range echoes {
		if head != "" && strings.Contains(echo, head) {
			return true
		}
		if containsAnyWord(echo, words) {
			return true
		}
	}
	return false
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// significantWords returns up to n words longer than four runes,
// skipping prepositions and other connective noise.
func significantWords(s string, n int) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:()«»\"")
		if utf8.RuneCountInString(w) <= 4 {
			continue
		}
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

func containsAnyWord(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
