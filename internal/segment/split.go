// Package segment turns raw contract text into ordered semantic
// paragraphs and groups them into bounded-size overlapping chunks
// suitable for a single model call.
package segment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

const (
	// minParagraphLen drops low-signal fragments: pure headings, bare
	// numbers, dates.
	minParagraphLen = 25
	// maxParagraphLen force-splits oversized paragraphs at a sentence
	// boundary nearest the midpoint.
	maxParagraphLen = 2000
)

var (
	clauseHeader = regexp.MustCompile(`^\d+(\.\d+)*\.?\s`)
	sectionWord  = regexp.MustCompile(`(?i)^\s*(статья|раздел|глава|пункт)\s+\d+`)
	numericLine  = regexp.MustCompile(`^[\d\s.,/\-–—]+$`)
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+`)
)

// Split breaks contract text into ordered paragraphs. Lines accumulate
// into a running buffer; blank lines and structural cues (numbered
// clause headers, uppercase headings, "статья/раздел/глава/пункт N"
// markers) flush it. Ids p1..pN are assigned in final document order
// after filtering.
func Split(text string) []types.Paragraph {
	var rawParas []string
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		rawParas = append(rawParas, strings.TrimSpace(strings.Join(buf, " ")))
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if isStructuralCue(line) {
			flush()
		}
		buf = append(buf, line)
	}
	flush()

	var paras []types.Paragraph
	for _, raw := range rawParas {
		if isLowSignal(raw) {
			continue
		}
		for _, part := range forceSplit(raw) {
			paras = append(paras, types.Paragraph{Text: part})
		}
	}
	for i := range paras {
		paras[i].ID = fmt.Sprintf("p%d", i+1)
	}

	logging.Get(logging.CategorySegment).Debugw("split contract",
		"input_len", len(text), "paragraphs", len(paras))
	return paras
}

func isStructuralCue(line string) bool {
	if clauseHeader.MatchString(line) || sectionWord.MatchString(line) {
		return true
	}
	return isUppercaseHeading(line)
}

// isUppercaseHeading reports whether the line is an all-caps heading
// (at least one letter, none lowercase).
func isUppercaseHeading(line string) bool {
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// isLowSignal drops fragments that carry no analyzable content: short
// strings, pure headings, pure numeric or date lines.
func isLowSignal(p string) bool {
	if len([]rune(p)) < minParagraphLen {
		return true
	}
	if numericLine.MatchString(p) {
		return true
	}
	if isUppercaseHeading(p) {
		return true
	}
	return false
}

// forceSplit recursively halves a paragraph exceeding maxParagraphLen
// at the sentence boundary nearest its midpoint.
func forceSplit(p string) []string {
	if len([]rune(p)) <= maxParagraphLen {
		return []string{p}
	}

	runes := []rune(p)
	mid := len(runes) / 2

	boundaries := sentenceEnd.FindAllStringIndex(p, -1)
	if len(boundaries) == 0 {
		// No sentence boundary: split at the midpoint as-is.
		return append(forceSplit(string(runes[:mid])), forceSplit(string(runes[mid:]))...)
	}

	// Pick the boundary nearest the midpoint (byte positions are close
	// enough for proximity comparison).
	midBytes := len(string(runes[:mid]))
	best := boundaries[0][1]
	for _, b := range boundaries {
		if abs(b[1]-midBytes) < abs(best-midBytes) {
			best = b[1]
		}
	}

	left := strings.TrimSpace(p[:best])
	right := strings.TrimSpace(p[best:])
	if left == "" || right == "" {
		return []string{p}
	}
	return append(forceSplit(left), forceSplit(right)...)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SplitSentences returns the sentences of a paragraph, used for overlap
// capture when chunks are closed.
func SplitSentences(p string) []string {
	var out []string
	last := 0
	for _, b := range sentenceEnd.FindAllStringIndex(p, -1) {
		out = append(out, strings.TrimSpace(p[last:b[1]]))
		last = b[1]
	}
	if rest := strings.TrimSpace(p[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
