package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

func TestExtractEntities_Durations(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "Поставка товара осуществляется в течение 10 календарных дней с момента оплаты."},
		{ID: "p2", Text: "Гарантийный срок составляет 2 года с даты поставки."},
	}

	entities := extractEntities(paras)

	var durations []entity
	for _, e := range entities {
		if e.kind == entityDuration {
			durations = append(durations, e)
		}
	}
	require.Len(t, durations, 2)
	assert.Equal(t, float64(10), durations[0].numeric)
	assert.Equal(t, float64(730), durations[1].numeric, "years normalize to days")
	assert.Contains(t, durations[0].context, "поставка товара")
}

func TestExtractEntities_PercentAndMoney(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "Неустойка составляет 0,1% от суммы долга, но не более 50 000 рублей."},
	}

	entities := extractEntities(paras)

	var percents, money []entity
	for _, e := range entities {
		switch e.kind {
		case entityPercent:
			percents = append(percents, e)
		case entityMoney:
			money = append(money, e)
		}
	}
	require.Len(t, percents, 1)
	assert.InDelta(t, 0.1, percents[0].numeric, 1e-9)
	require.Len(t, money, 1)
	assert.Equal(t, float64(50000), money[0].numeric)
}

func TestPairCandidates_LiabilityAlwaysPairs(t *testing.T) {
	entities := []entity{
		{kind: entityLiability, value: "неустойку", context: "поставщик уплачивает неустойку за просрочку", para: types.Paragraph{ID: "p1"}},
		{kind: entityLiability, value: "штраф", context: "покупатель уплачивает штраф за отказ", para: types.Paragraph{ID: "p2"}},
	}

	cands := pairCandidates(entities)
	require.Len(t, cands, 1)
	assert.Equal(t, entityLiability, cands[0].kind)
}

func TestPairCandidates_PercentNeedsMeaningfulDiff(t *testing.T) {
	base := "за просрочку поставки товара поставщик уплачивает неустойку в размере"
	entities := []entity{
		{kind: entityPercent, value: "0,1%", numeric: 0.1, context: base, para: types.Paragraph{ID: "p1"}},
		{kind: entityPercent, value: "0,15%", numeric: 0.15, context: base, para: types.Paragraph{ID: "p2"}},
		{kind: entityPercent, value: "0,5%", numeric: 0.5, context: base, para: types.Paragraph{ID: "p3"}},
	}

	cands := pairCandidates(entities)
	for _, c := range cands {
		diff := c.first.numeric - c.second.numeric
		if diff < 0 {
			diff = -diff
		}
		assert.Greater(t, diff, 0.1)
	}
	require.NotEmpty(t, cands)
}

func TestPairCandidates_SameParagraphNeverPairs(t *testing.T) {
	entities := []entity{
		{kind: entityDuration, value: "10 дней", numeric: 10, context: "поставка товара в течение 10 дней после оплаты", para: types.Paragraph{ID: "p1"}},
		{kind: entityDuration, value: "30 дней", numeric: 30, context: "поставка товара в течение 30 дней после оплаты", para: types.Paragraph{ID: "p1"}},
	}
	assert.Empty(t, pairCandidates(entities))
}

func TestSharesContext_AnchorLowersThreshold(t *testing.T) {
	a := entity{context: "оплата товара производится покупателем в срок"}
	b := entity{context: "оплата товара считается произведенной в момент"}
	assert.True(t, sharesContext(a, b), "two shared words plus payment anchor")

	c := entity{context: "гарантийный случай рассматривается комиссией"}
	d := entity{context: "принимает решение комиссией после осмотра"}
	assert.False(t, sharesContext(c, d))
}

func TestBuildDigest_OnlyClassifiedAndCapped(t *testing.T) {
	var paras []types.Paragraph
	var items []types.AnalysisItem
	for i := 0; i < 40; i++ {
		id := types.Paragraph{ID: paraID(i), Text: "Пункт договора с достаточно длинным текстом."}
		paras = append(paras, id)
		if i%2 == 0 {
			items = append(items, types.AnalysisItem{ID: id.ID, Category: catPtr(types.CategoryRisk)})
		} else {
			items = append(items, types.AnalysisItem{ID: id.ID})
		}
	}

	digest := buildDigest(paras, items)
	require.Len(t, digest, 20, "only classified paragraphs enter the digest")
	assert.Equal(t, "p00", digest[0].id)
}

func paraID(i int) string {
	return "p" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestBuildDigest_TruncatesLongParagraphs(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "очень длинный пункт "
	}
	paras := []types.Paragraph{{ID: "p1", Text: long}}
	items := []types.AnalysisItem{{ID: "p1", Category: catPtr(types.CategoryRisk)}}

	digest := buildDigest(paras, items)
	require.Len(t, digest, 1)
	assert.LessOrEqual(t, len([]rune(digest[0].text)), digestTruncateRunes)
}

func TestParseDigestResponse_CapsFindings(t *testing.T) {
	raw := `{"contradictions": [`
	for i := 0; i < 10; i++ {
		if i > 0 {
			raw += ","
		}
		raw += `{"type": "temporal", "description": "сроки не совпадают", "paragraph1": {"text": "а", "value": "10 дней"}, "paragraph2": {"text": "б", "value": "30 дней"}, "severity": "high", "recommendation": "согласовать"}`
	}
	raw += `]}`

	found := parseDigestResponse(raw)
	require.Len(t, found, maxDigestContradictions)
	assert.Equal(t, types.ContradictionTemporal, found[0].Type)
	assert.Equal(t, types.SeverityHigh, found[0].Severity)
	assert.NotEmpty(t, found[0].ID)
}

func TestParseDigestResponse_Garbage(t *testing.T) {
	assert.Empty(t, parseDigestResponse("модель отказалась отвечать"))
}

func TestRetryableContradictionError(t *testing.T) {
	assert.False(t, retryableContradictionError(&llm.UpstreamAPIError{Status: 402, Message: "insufficient balance"}))
	assert.False(t, retryableContradictionError(&llm.UpstreamAPIError{Status: 400, Message: "prompt exceeds max token limit"}))
	assert.True(t, retryableContradictionError(&llm.UpstreamAPIError{Status: 429, Message: "rate limit exceeded"}))
	assert.True(t, retryableContradictionError(assert.AnError))
}

func TestNormalizeSeverity_DefaultsToMedium(t *testing.T) {
	assert.Equal(t, types.SeverityHigh, normalizeSeverity("HIGH"))
	assert.Equal(t, types.SeverityMedium, normalizeSeverity("critical"))
	assert.Equal(t, types.SeverityLow, normalizeSeverity(" low "))
}
