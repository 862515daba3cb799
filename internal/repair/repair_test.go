package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
	assert.Equal(t, "no fences here", StripFences("no fences here"))
}

func TestStripControl(t *testing.T) {
	assert.Equal(t, "ab\ncd\te", StripControl("a\x00b\ncd\te\x1f"))
}

func TestCloseTruncated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unmatched brace", `{"a": 1`, `{"a": 1}`},
		{"unmatched array and brace", `{"a": [1, 2`, `{"a": [1, 2]}`},
		{"trailing comma", `{"a": 1,}`, `{"a": 1}`},
		{"cut mid-string", `{"a": "hel`, `{"a": "hel"}`},
		{"already valid", `{"a": 1}`, `{"a": 1}`},
		{"braces inside strings ignored", `{"a": "b}"`, `{"a": "b}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CloseTruncated(tt.in))
		})
	}
}

// Extraction must return a value for every input, without panicking,
// including empty strings, prose, and JSON truncated mid-string or
// mid-array.
func TestExtractChunkResult_NeverFails(t *testing.T) {
	inputs := []string{
		"",
		"   \n\t ",
		"the model decided to chat instead of emitting JSON",
		`{"chunkId": "c1", "analysis": [{"id": "p1", "category": "risk"`,
		`{"chunkId": "c1", "analysis": [{"id": "p1", "category": "ri`,
		"```json\n{\"chunkId\": \"c1\", \"analysis\": []}\n```",
		`[1, 2, 3`,
		`{"chunkId": 42}`,
	}
	for _, in := range inputs {
		res := ExtractChunkResult(in)
		assert.NotNil(t, res.Analysis, "input %q", in)
		assert.NotEmpty(t, res.ChunkID, "input %q", in)
	}
}

func TestExtractChunkResult_EmptyInput(t *testing.T) {
	res := ExtractChunkResult("  \n ")
	assert.Equal(t, ChunkIDUnknown, res.ChunkID)
	assert.Empty(t, res.Analysis)
}

func TestExtractChunkResult_DirectParse(t *testing.T) {
	res := ExtractChunkResult(`{"chunkId":"c2","analysis":[{"id":"p3","category":"checklist","comment":"ok"}]}`)
	require.Len(t, res.Analysis, 1)
	assert.Equal(t, "c2", res.ChunkID)
	assert.Equal(t, "p3", res.Analysis[0].ID)
	require.NotNil(t, res.Analysis[0].Category)
	assert.Equal(t, types.CategoryChecklist, *res.Analysis[0].Category)
}

func TestExtractChunkResult_TruncatedMidArray(t *testing.T) {
	raw := `{"chunkId":"c1","analysis":[{"id":"p1","category":"risk","comment":"x"},{"id":"p2","category":"partial"`
	res := ExtractChunkResult(raw)
	assert.Equal(t, "c1", res.ChunkID)
	require.NotEmpty(t, res.Analysis)
	assert.Equal(t, "p1", res.Analysis[0].ID)
}

func TestExtractChunkResult_PartialObjectRecovery(t *testing.T) {
	// Broken outer structure: individual objects are still pulled out,
	// skipping the one that fails to parse on its own.
	raw := `some prose "chunkId" then {"id":"p1","category":"risk"} garbage {"id":"p2","category":} and {"id":"p4","category":"ambiguous"}`
	res := ExtractChunkResult(raw)
	require.Len(t, res.Analysis, 2)
	assert.Equal(t, "p1", res.Analysis[0].ID)
	assert.Equal(t, "p4", res.Analysis[1].ID)
}

func TestExtractChunkResult_FailedSentinel(t *testing.T) {
	res := ExtractChunkResult("analysis chunkId nothing parsable here")
	assert.Equal(t, ChunkIDFailed, res.ChunkID)
	assert.Empty(t, res.Analysis)
}

func TestExtractVerification(t *testing.T) {
	t.Run("direct parse", func(t *testing.T) {
		v := ExtractVerification(`{"isContradiction": true, "severity": "high", "description": "d"}`)
		assert.True(t, v.IsContradiction)
		assert.Equal(t, "high", v.Severity)
	})

	t.Run("regex fallback from broken JSON", func(t *testing.T) {
		v := ExtractVerification(`the answer: "isContradiction": true ... "severity": "low" and then it broke {`)
		assert.True(t, v.IsContradiction)
		assert.Equal(t, "low", v.Severity)
	})

	t.Run("fallback default severity", func(t *testing.T) {
		v := ExtractVerification(`"isContradiction": true, nothing else [`)
		assert.True(t, v.IsContradiction)
		assert.Equal(t, "medium", v.Severity)
	})

	t.Run("unrecoverable means unconfirmed", func(t *testing.T) {
		v := ExtractVerification("no idea")
		assert.False(t, v.IsContradiction)
	})

	t.Run("empty input", func(t *testing.T) {
		v := ExtractVerification("")
		assert.False(t, v.IsContradiction)
	})
}

func TestExtractObject(t *testing.T) {
	var dst struct {
		A int `json:"a"`
	}
	assert.True(t, ExtractObject("```json\n{\"a\": 5}\n```", &dst))
	assert.Equal(t, 5, dst.A)

	assert.True(t, ExtractObject(`prefix text {"a": 7} suffix`, &dst))
	assert.Equal(t, 7, dst.A)

	assert.False(t, ExtractObject("", &dst))

	// A stray opening brace in prose closes into {}, which must not
	// count as a successful decode.
	assert.False(t, ExtractObject("the model explained itself and then {", &dst))
}
