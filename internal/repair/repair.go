// Package repair recovers structured values from raw model output that
// is supposed to be JSON but frequently is not: prose-wrapped, fenced,
// truncated mid-string or mid-structure under token limits. Extraction
// never fails; it degrades through an ordered chain of strategies and
// bottoms out at a sentinel value, because losing a whole chunk's
// analysis to one bad character is unacceptable.
package repair

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const (
	// ChunkIDUnknown marks the canonical empty result for blank input.
	ChunkIDUnknown = "unknown"
	// ChunkIDFailed marks the last-resort sentinel when nothing was
	// recoverable.
	ChunkIDFailed = "failed"
)

// StripFences removes a markdown code fence wrapper (```json ... ```).
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return s
	}
	lastFence := strings.LastIndex(trimmed, "```")
	if lastFence <= firstNewline {
		return s
	}
	return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
}

// StripControl drops control characters that are unsafe inside JSON,
// keeping the whitespace JSON tolerates between tokens.
func StripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// CloseTruncated repairs output cut off mid-string or mid-structure:
// an unterminated string literal is closed keeping its partial content,
// unmatched braces and brackets are closed in nesting order, and
// trailing commas before closers are dropped.
func CloseTruncated(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	// Close unmatched openers in reverse nesting order, ignoring
	// brackets inside string literals.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	s = trailingComma.ReplaceAllString(s, "$1")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return trailingComma.ReplaceAllString(s, "$1")
}

// Clean applies the lossless preprocessing strategies.
func Clean(raw string) string {
	return StripControl(StripFences(raw))
}

// parseJSON tries a direct parse, then a repaired parse.
func parseJSON(cleaned string, v any) bool {
	if json.Unmarshal([]byte(cleaned), v) == nil {
		return true
	}
	repaired := CloseTruncated(cleaned)
	if repaired != cleaned && json.Unmarshal([]byte(repaired), v) == nil {
		logging.Get(logging.CategoryRepair).Debugw("recovered truncated JSON",
			"original_len", len(cleaned), "repaired_len", len(repaired))
		return true
	}
	// The payload may be embedded in prose; try the outermost object.
	// A contentless {} is not a recovery: it decodes into a zero value
	// and would mask the caller's own fallback strategies.
	if obj := outermostObject(repaired); !vacuousObject(obj) && json.Unmarshal([]byte(obj), v) == nil {
		return true
	}
	return false
}

func vacuousObject(obj string) bool {
	if obj == "" {
		return true
	}
	return strings.TrimSpace(obj[1:len(obj)-1]) == ""
}

// outermostObject extracts the first balanced {...} span, skipping
// braces inside string literals.
func outermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// ExtractObject is the generic best-effort decoder: clean, parse,
// repair, parse again. Reports whether anything was decoded.
func ExtractObject(raw string, v any) bool {
	cleaned := Clean(raw)
	if strings.TrimSpace(cleaned) == "" {
		return false
	}
	return parseJSON(cleaned, v)
}

var analysisObject = regexp.MustCompile(`\{[^{}]*"id"\s*:\s*"[^"]+"[^{}]*\}`)

// ExtractChunkResult recovers a chunk-analysis payload. It always
// returns a value: the canonical empty shape for blank input, the
// parsed result where any strategy succeeds, per-object partial
// recovery of individual analysis items, and the failed sentinel last.
func ExtractChunkResult(raw string) types.ChunkResult {
	cleaned := Clean(raw)
	if strings.TrimSpace(cleaned) == "" {
		return types.ChunkResult{ChunkID: ChunkIDUnknown, Analysis: []types.AnalysisItem{}}
	}

	var result types.ChunkResult
	if parseJSON(cleaned, &result) && (result.ChunkID != "" || len(result.Analysis) > 0) {
		if result.ChunkID == "" {
			result.ChunkID = ChunkIDUnknown
		}
		if result.Analysis == nil {
			result.Analysis = []types.AnalysisItem{}
		}
		return result
	}

	// Partial recovery: pull analysis objects out one at a time,
	// skipping any that individually fail to parse.
	if strings.Contains(cleaned, "chunkId") || strings.Contains(cleaned, "analysis") {
		var items []types.AnalysisItem
		for _, m := range analysisObject.FindAllString(cleaned, -1) {
			var item types.AnalysisItem
			if json.Unmarshal([]byte(m), &item) == nil && item.ID != "" {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			logging.Get(logging.CategoryRepair).Infow("partial analysis recovery",
				"items", len(items))
			return types.ChunkResult{ChunkID: recoveredChunkID(cleaned), Analysis: items}
		}
	}

	return types.ChunkResult{ChunkID: ChunkIDFailed, Analysis: []types.AnalysisItem{}}
}

var chunkIDPattern = regexp.MustCompile(`"chunkId"\s*:\s*"([^"]+)"`)

func recoveredChunkID(s string) string {
	if m := chunkIDPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ChunkIDUnknown
}

// Verification is the model's verdict on one contradiction candidate.
type Verification struct {
	IsContradiction bool   `json:"isContradiction"`
	Severity        string `json:"severity"`
	Description     string `json:"description"`
	Recommendation  string `json:"recommendation"`
}

var (
	isContradictionPattern = regexp.MustCompile(`(?i)"isContradiction"\s*:\s*(true|false)`)
	severityPattern        = regexp.MustCompile(`(?i)"severity"\s*:\s*"(high|medium|low)"`)
)

// ExtractVerification recovers a contradiction verification. When JSON
// parsing fails but the text clearly mentions the verification fields,
// the verdict is pattern-extracted into a safe default shape; otherwise
// the candidate is treated as unconfirmed.
func ExtractVerification(raw string) Verification {
	cleaned := Clean(raw)
	if strings.TrimSpace(cleaned) == "" {
		return Verification{}
	}

	var v Verification
	if parseJSON(cleaned, &v) {
		return v
	}

	if m := isContradictionPattern.FindStringSubmatch(cleaned); m != nil {
		v.IsContradiction = strings.EqualFold(m[1], "true")
		v.Severity = "medium"
		if sm := severityPattern.FindStringSubmatch(cleaned); sm != nil {
			v.Severity = strings.ToLower(sm[1])
		}
	}
	return v
}
