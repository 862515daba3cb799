package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analyses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport() *types.AnalysisReport {
	cat := types.CategoryRisk
	comment := "односторонний отказ без уведомления"
	return &types.AnalysisReport{
		ContractParagraphs: []types.Paragraph{
			{ID: "p1", Text: "Поставщик вправе расторгнуть договор в одностороннем порядке."},
		},
		Analysis: []types.AnalysisItem{
			{ID: "p1", Category: &cat, Comment: &comment},
		},
		MissingRequirements: []types.MissingRequirement{
			{Requirement: "Условие о форс-мажоре", Comment: "не найдено"},
		},
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("текст договора")
	b := Hash("текст договора")
	c := Hash("другой текст")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	report := sampleReport()
	hash := Hash("текст договора")

	id, err := s.Save(hash, report)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.LoadByHash(hash)
	require.NoError(t, err)
	if diff := cmp.Diff(report, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_UpsertKeepsOneRowPerHash(t *testing.T) {
	s := openTestStore(t)
	hash := Hash("текст")

	id1, err := s.Save(hash, sampleReport())
	require.NoError(t, err)

	updated := sampleReport()
	updated.MissingRequirements = nil
	id2, err := s.Save(hash, updated)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := s.LoadByHash(hash)
	require.NoError(t, err)
	assert.Empty(t, got.MissingRequirements)
}

func TestLoadByHash_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadByHash(Hash("никогда не сохранялось"))
	require.ErrorIs(t, err, ErrNotFound)
}
