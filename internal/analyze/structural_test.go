package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

func TestFindStructuralDefects_BrokenReference(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "4.1. Поставщик передает товар в сроки, указанные в п. 9.7 настоящего договора."},
		{ID: "p2", Text: "9.1. Споры разрешаются переговорами."},
	}

	defects := FindStructuralDefects(paras)
	require.Len(t, defects, 1)
	d := defects[0]
	assert.Equal(t, types.DefectBrokenReference, d.Type)
	assert.Equal(t, types.SeverityHigh, d.Severity)
	assert.Equal(t, "p1", d.Location)
	assert.Contains(t, d.Description, "9.7")
	assert.Contains(t, d.Recommendation, "9.1", "suggests the clause sharing the numbering prefix")
}

func TestFindStructuralDefects_SelfReference(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "6.2. За нарушение обязательств по пункту 6.2 поставщик уплачивает неустойку."},
	}

	defects := FindStructuralDefects(paras)
	require.Len(t, defects, 1)
	assert.Equal(t, types.DefectSelfReference, defects[0].Type)
	assert.Contains(t, defects[0].Description, "6.2")
}

func TestFindStructuralDefects_CyclicReference(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "3.1. Порядок оплаты определяется согласно п. 5.2 договора."},
		{ID: "p2", Text: "5.2. Оплата производится в порядке, установленном п. 3.1 договора."},
	}

	defects := FindStructuralDefects(paras)
	require.Len(t, defects, 1)
	assert.Equal(t, types.DefectCyclicReference, defects[0].Type)
	assert.Equal(t, types.SeverityHigh, defects[0].Severity)
}

func TestFindStructuralDefects_ValidReferencesClean(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "2.1. Товар поставляется в срок, указанный в п. 2.2."},
		{ID: "p2", Text: "2.2. Срок поставки составляет 10 рабочих дней."},
	}
	assert.Empty(t, FindStructuralDefects(paras))
}

func TestFindStructuralDefects_UnnumberedParagraphRefs(t *testing.T) {
	// References from a paragraph without its own clause number are
	// still validated against the number map.
	paras := []types.Paragraph{
		{ID: "p1", Text: "Ответственность сторон определена в пункте 8.3 договора."},
	}

	defects := FindStructuralDefects(paras)
	require.Len(t, defects, 1)
	assert.Equal(t, types.DefectBrokenReference, defects[0].Type)
}

func TestFindStructuralDefects_Deterministic(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "1.1. Предмет договора описан в п. 7.7."},
		{ID: "p2", Text: "2.1. Порядок поставки описан в п. 8.8."},
	}

	first := FindStructuralDefects(paras)
	second := FindStructuralDefects(paras)
	require.Len(t, first, 2)
	for i := range first {
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, first[i].Location, second[i].Location)
	}
}

func TestSuspiciousClauses(t *testing.T) {
	paras := []types.Paragraph{
		{ID: "p1", Text: "7.1. Ответственность за просрочку установлена в п. 7.2 договора."},
		{ID: "p2", Text: "7.2. Неустойка составляет 0,1% за каждый день."},
		{ID: "p3", Text: "Ответственность сторон регулируется законодательством."},
	}

	got := suspiciousClauses(paras)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}
