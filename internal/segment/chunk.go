package segment

import (
	"fmt"
	"strings"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// OverlapMarker prefixes the synthetic paragraph carrying trailing
// sentences of the previous chunk. The marker tells the model this is
// context, not content to classify.
const OverlapMarker = "[Контекст из предыдущего фрагмента]"

// maxParagraphsPerChunk caps chunk size independently of the token
// budget; long contracts with many short clauses otherwise produce
// unwieldy single-call payloads.
const maxParagraphsPerChunk = 6

// bytesPerToken is the fixed estimate ratio. It is a rough
// approximation, not a tokenizer; the chunk budget is approximate by
// design.
const bytesPerToken = 4

// EstimateTokens approximates the token footprint of a text.
func EstimateTokens(text string) int {
	return len(text) / bytesPerToken
}

// BuildChunks greedily packs paragraphs into chunks while the token
// estimate plus the would-be overlap cost stays under maxTokens and the
// paragraph cap is not exceeded. On overflow the chunk closes, its last
// overlapSentences sentences are captured, and the next chunk opens
// with a synthetic overlap paragraph carrying them. Overlap preserves
// cross-chunk continuity for contradiction and context-sensitive
// judgments without re-sending whole prior chunks.
func BuildChunks(paras []types.Paragraph, maxTokens, overlapSentences int) []types.Chunk {
	if len(paras) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = 3000
	}

	var chunks []types.Chunk
	var current []types.Paragraph
	currentTokens := 0
	var overlap string

	open := func() {
		current = nil
		currentTokens = 0
		if overlap != "" {
			syn := types.Paragraph{
				ID:        fmt.Sprintf("overlap%d", len(chunks)+1),
				Text:      OverlapMarker + " " + overlap,
				Synthetic: true,
			}
			current = append(current, syn)
			currentTokens += EstimateTokens(syn.Text)
		}
	}

	closeChunk := func() {
		if len(current) == 0 {
			return
		}
		hasOverlap := current[0].Synthetic
		chunks = append(chunks, types.Chunk{
			ID:               fmt.Sprintf("chunk%d", len(chunks)+1),
			Paragraphs:       current,
			TokenEstimate:    currentTokens,
			HasOverlapPrefix: hasOverlap,
		})
		overlap = captureOverlap(current, overlapSentences)
	}

	open()
	for _, p := range paras {
		pTokens := EstimateTokens(p.Text)
		realCount := len(current)
		if len(current) > 0 && current[0].Synthetic {
			realCount--
		}
		// Close only when the chunk holds real content: a chunk of just
		// the synthetic overlap prefix would be a model call with
		// nothing to classify.
		if realCount > 0 && (currentTokens+pTokens > maxTokens || realCount >= maxParagraphsPerChunk) {
			closeChunk()
			open()
		}
		current = append(current, p)
		currentTokens += pTokens
	}
	closeChunk()

	logging.Get(logging.CategorySegment).Debugw("built chunks",
		"paragraphs", len(paras), "chunks", len(chunks), "max_tokens", maxTokens)
	return chunks
}

// captureOverlap takes the last n sentences of the chunk's final real
// paragraph.
func captureOverlap(paras []types.Paragraph, n int) string {
	if n <= 0 || len(paras) == 0 {
		return ""
	}
	last := paras[len(paras)-1]
	if last.Synthetic {
		return ""
	}
	sentences := SplitSentences(last.Text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) > n {
		sentences = sentences[len(sentences)-n:]
	}
	return strings.Join(sentences, " ")
}

// RealParagraphs filters out synthetic overlap paragraphs; downstream
// paragraph-id lookups must never resolve to overlap content.
func RealParagraphs(c types.Chunk) []types.Paragraph {
	out := make([]types.Paragraph, 0, len(c.Paragraphs))
	for _, p := range c.Paragraphs {
		if !p.Synthetic {
			out = append(out, p)
		}
	}
	return out
}
