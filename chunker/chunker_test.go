package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemantic_ChunkBatch_NonEmptyWithinLimit(t *testing.T) {
	s := NewSemantic(DefaultSemanticConfig())
	text := strings.Repeat("This is a sentence about topic A. ", 20) +
		strings.Repeat("This is a sentence about topic B. ", 20)

	results, err := s.ChunkBatch([]string{text})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])
	for _, c := range results[0] {
		assert.NotEmpty(t, c.Text)
		assert.LessOrEqual(t, c.TokenCount, MaxTokensPerChunk)
	}
}

func TestSemantic_ChunkBatch_ResplitsOversizeChunk(t *testing.T) {
	s := NewSemantic(SemanticConfig{SimilarityWindow: 1000, Threshold: 1000, MinSentences: 1000000, MinChars: 1000000})
	huge := strings.Repeat("word ", MaxTokensPerChunk*5)

	results, err := s.ChunkBatch([]string{huge})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, len(results[0]), 1, "an oversize single-group chunk must be re-split")
	for _, c := range results[0] {
		assert.LessOrEqual(t, c.TokenCount, MaxTokensPerChunk)
	}
}

func TestSemantic_ChunkBatch_EmptyTextYieldsNoChunks(t *testing.T) {
	s := NewSemantic(DefaultSemanticConfig())
	results, err := s.ChunkBatch([]string{""})
	require.NoError(t, err)
	assert.Empty(t, results[0])
}

func TestExtensionClassifier_UnsupportedLanguageReported(t *testing.T) {
	c := NewExtensionClassifier()
	_, ok := c.Classify("notes.txt", nil)
	assert.False(t, ok)

	lang, ok := c.Classify("main.go", nil)
	assert.True(t, ok)
	assert.Equal(t, "go", lang)
}

func TestCode_ChunkFile_SkipsUnsupportedLanguage(t *testing.T) {
	code := NewCode(DefaultCodeConfig(), nil)
	chunks, ok, err := code.ChunkFile("README.unknownlang", []byte("whatever"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, chunks)
}

func TestCode_ChunkFile_SplitsLongFileWithOverlap(t *testing.T) {
	cfg := CodeConfig{MaxLinesPerChunk: 10, OverlapLines: 2}
	code := NewCode(cfg, nil)

	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	content := []byte(strings.Join(lines, "\n"))

	chunks, ok, err := code.ChunkFile("main.go", content)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Text)
	}
}
