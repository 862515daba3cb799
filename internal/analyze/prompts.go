package analyze

import (
	"fmt"
	"strings"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// Checklist match markers. The chunk-analysis prompt instructs the
// model to begin checklist/partial comments with these exact markers;
// the gap finder later matches requirements against them, so the
// strings are part of the data contract and must not drift.
const (
	markerChecklist = "✅ Соответствует требованию:"
	markerPartial   = "🔶 Частично соответствует требованию:"
)

const chunkSystemPrompt = `Ты — юридический аналитик договоров поставки. Отвечай строго в формате JSON без пояснений вне JSON.`

func perspectiveLabel(p types.Perspective) string {
	if p == types.PerspectiveSupplier {
		return "поставщика"
	}
	return "покупателя"
}

// buildChunkPrompt produces the dual-purpose prompt: paragraph
// classification against the checklist plus the rights tally for the
// same chunk in one call, amortizing latency and cost versus two
// passes.
func buildChunkPrompt(chunk types.Chunk, checklist string, perspective types.Perspective) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Проанализируй фрагмент договора поставки с позиции %s.\n\n", perspectiveLabel(perspective))
	b.WriteString("ЧЕК-ЛИСТ ОБЯЗАТЕЛЬНЫХ ТРЕБОВАНИЙ:\n")
	b.WriteString(checklist)
	b.WriteString("\n\nПУНКТЫ ДОГОВОРА:\n")
	for _, p := range chunk.Paragraphs {
		fmt.Fprintf(&b, "[%s] %s\n", p.ID, p.Text)
	}
	fmt.Fprintf(&b, `
Классифицируй КАЖДЫЙ пункт в одну из категорий:
- "checklist" — полностью соответствует требованию чек-листа; комментарий начинай с "%s"
- "partial" — частично соответствует требованию; комментарий начинай с "%s"
- "risk" — создает риск для стороны, с позиции которой идет анализ
- "ambiguous" — двусмысленная или неясная формулировка
- "deemed_acceptance" — молчание или бездействие стороны трактуется как согласие без указания последствий
- "external_refs" — ссылка на внешний документ, который не приложен
- null — пункт нейтрален; для null не указывай comment и recommendation

Пункты с идентификатором, начинающимся на "overlap", — это контекст предыдущего фрагмента: используй их для понимания, но не включай в analysis.

Дополнительно подсчитай права сторон в этом фрагменте.

Ответ строго в формате:
{
  "chunkId": "%s",
  "analysis": [
    {"id": "p1", "category": "risk", "comment": "...", "recommendation": "..."}
  ],
  "chunkRightsAnalysis": {
    "buyerRightsCount": 0,
    "supplierRightsCount": 0,
    "rightsDetails": ["..."],
    "classifiedClauses": [{"id": "p1", "party": "buyer|supplier|both|neutral", "type": "termination|modification|liability|control|procedural"}]
  }
}
`, markerChecklist, markerPartial, chunk.ID)
	return b.String()
}

// buildVerificationPrompt asks the model to confirm or deny one
// contradiction candidate.
func buildVerificationPrompt(c candidate) string {
	return fmt.Sprintf(`Проверь, противоречат ли друг другу два пункта договора.

Пункт 1 (%s): %s
Значение 1: %s

Пункт 2 (%s): %s
Значение 2: %s

Ответ строго в формате JSON:
{"isContradiction": true|false, "severity": "high|medium|low", "description": "...", "recommendation": "..."}`,
		c.first.para.ID, c.first.para.Text, c.first.value,
		c.second.para.ID, c.second.para.Text, c.second.value)
}

// buildContradictionDigestPrompt is the primary production path: one
// bounded digest, one call, up to maxDigestContradictions findings.
func buildContradictionDigestPrompt(digest []digestEntry) string {
	var b strings.Builder
	b.WriteString("Найди противоречия между пунктами договора поставки.\n\nПУНКТЫ:\n")
	for _, d := range digest {
		fmt.Fprintf(&b, "[%s] %s\n", d.id, d.text)
	}
	fmt.Fprintf(&b, `
Найди не более %d существенных противоречий (сроки, суммы, проценты, порядок действий, приоритет документов).

Ответ строго в формате JSON:
{
  "contradictions": [
    {
      "type": "temporal|financial|quantitative|legal|procedural|logical|priority",
      "description": "...",
      "paragraph1": {"text": "...", "value": "..."},
      "paragraph2": {"text": "...", "value": "..."},
      "severity": "high|medium|low",
      "recommendation": "..."
    }
  ]
}
`, maxDigestContradictions)
	return b.String()
}

// buildRightsPrompt asks only for party/type tags; the imbalance
// verdict is computed deterministically afterwards.
func buildRightsPrompt(paras []types.Paragraph) string {
	var b strings.Builder
	b.WriteString("Определи, какой стороне договора поставки принадлежит право в каждом пункте.\n\nПУНКТЫ:\n")
	for _, p := range paras {
		fmt.Fprintf(&b, "[%s] %s\n", p.ID, p.Text)
	}
	b.WriteString(`
Для каждого пункта укажи сторону (buyer, supplier, both, neutral) и тип права (termination, modification, liability, control, procedural).

Ответ строго в формате JSON:
{"clauses": [{"id": "p1", "party": "supplier", "type": "termination"}]}
`)
	return b.String()
}

// buildStructuralPrompt reviews suspicious liability/reference clauses
// for subtler logical errors than the rule-based pass can see.
func buildStructuralPrompt(paras []types.Paragraph) string {
	var b strings.Builder
	b.WriteString("Проверь пункты договора на логические ошибки в перекрестных ссылках (например, пункт об ответственности ссылается сам на себя вместо пункта об обязательстве).\n\nПУНКТЫ:\n")
	for _, p := range paras {
		fmt.Fprintf(&b, "[%s] %s\n", p.ID, p.Text)
	}
	b.WriteString(`
Ответ строго в формате JSON:
{"defects": [{"location": "p1", "description": "...", "severity": "high|medium|low", "recommendation": "..."}]}
`)
	return b.String()
}

// buildSummaryPrompt assembles the closing-narrative request from the
// top severe findings of every category plus aggregate counts.
func buildSummaryPrompt(input summaryInput) string {
	var b strings.Builder
	b.WriteString("Составь итоговое заключение по анализу договора поставки.\n\n")
	fmt.Fprintf(&b, "Всего пунктов: %d. Рисков: %d. Пропущенных требований: %d. Противоречий: %d. Дисбалансов прав: %d. Структурных дефектов: %d.\n\n",
		input.totalParagraphs, len(input.risks), len(input.missing),
		input.contradictionCount, input.imbalanceCount, input.defectCount)

	writeSection := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(title + "\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
		b.WriteString("\n")
	}
	writeSection("КЛЮЧЕВЫЕ РИСКИ:", input.risks)
	writeSection("МОЛЧАЛИВОЕ СОГЛАСИЕ:", input.deemedAcceptance)
	writeSection("ВНЕШНИЕ ССЫЛКИ:", input.externalRefs)
	writeSection("ЧАСТИЧНОЕ СООТВЕТСТВИЕ:", input.partial)
	writeSection("ПРОПУЩЕННЫЕ ТРЕБОВАНИЯ:", input.missing)
	writeSection("ПРОТИВОРЕЧИЯ:", input.contradictions)
	writeSection("ДИСБАЛАНС ПРАВ:", input.imbalances)

	b.WriteString(`Ответ строго в формате JSON:
{
  "overallAssessment": "...",
  "keyRisks": ["..."],
  "structureComments": "...",
  "legalCompliance": "...",
  "recommendations": ["..."]
}
`)
	return b.String()
}
