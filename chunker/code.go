package chunker

import (
	"path"
	"strings"
)

// LanguageClassifier identifies a code file's language before parser
// lookup, matching spec.md §4.7's "lightweight content classifier to
// identify language before parser lookup" used ahead of tree-sitter.
type LanguageClassifier interface {
	// Classify returns the detected language name and whether the Code
	// chunker has a parser registered for it.
	Classify(filename string, content []byte) (language string, supported bool)
}

// ExtensionClassifier identifies language purely from the file extension.
// No tree-sitter binding ships in the example pack, so the Code chunker
// re-splits by a line-window heuristic instead of an AST walk — see
// DESIGN.md; a language absent from this table is reported unsupported so
// the pipeline skips the entity rather than mis-chunking it.
type ExtensionClassifier struct {
	supported map[string]string
}

// NewExtensionClassifier builds the default classifier covering the
// languages the pipeline is expected to chunk.
func NewExtensionClassifier() *ExtensionClassifier {
	return &ExtensionClassifier{supported: map[string]string{
		".go":   "go",
		".py":   "python",
		".js":   "javascript",
		".jsx":  "javascript",
		".ts":   "typescript",
		".tsx":  "typescript",
		".java": "java",
		".rb":   "ruby",
		".c":    "c",
		".h":    "c",
		".cpp":  "cpp",
		".rs":   "rust",
	}}
}

func (c *ExtensionClassifier) Classify(filename string, content []byte) (string, bool) {
	ext := strings.ToLower(path.Ext(filename))
	lang, ok := c.supported[ext]
	return lang, ok
}

var _ LanguageClassifier = (*ExtensionClassifier)(nil)

// CodeConfig tunes the Code chunker's line-window re-split.
type CodeConfig struct {
	MaxLinesPerChunk int
	OverlapLines     int
}

// DefaultCodeConfig matches the teacher-grounded defaults.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{MaxLinesPerChunk: 120, OverlapLines: 10}
}

// Code is the process-wide singleton code chunker (spec.md §4.7). It
// classifies each input's language and skips anything the classifier
// reports unsupported, splitting supported files along line boundaries
// (approximating an AST-aware split without a tree-sitter binding).
type Code struct {
	cfg        CodeConfig
	classifier LanguageClassifier
}

// NewCode builds a Code chunker. filename is required per call to ChunkFile
// since language detection depends on the file's name/extension, unlike
// Semantic's ChunkBatch which operates on bare text.
func NewCode(cfg CodeConfig, classifier LanguageClassifier) *Code {
	if classifier == nil {
		classifier = NewExtensionClassifier()
	}
	return &Code{cfg: cfg, classifier: classifier}
}

// ChunkFile returns ok=false (and no chunks, no error) when the classifier
// reports the file's language unsupported — the pipeline skips the entity
// rather than failing the sync (spec.md §4.7).
func (c *Code) ChunkFile(filename string, content []byte) (chunks []Chunk, ok bool, err error) {
	_, supported := c.classifier.Classify(filename, content)
	if !supported {
		return nil, false, nil
	}

	text := string(content)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil, true, nil
	}

	offsets := make([]int, len(lines)+1)
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1
	}
	offsets[len(lines)] = pos

	step := c.cfg.MaxLinesPerChunk - c.cfg.OverlapLines
	if step <= 0 {
		step = c.cfg.MaxLinesPerChunk
	}

	out := make([]Chunk, 0, len(lines)/step+1)
	for start := 0; start < len(lines); start += step {
		end := start + c.cfg.MaxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		startOffset := offsets[start]
		endOffset := offsets[end]
		if endOffset > len(text) {
			endOffset = len(text)
		}
		chunkText := text[startOffset:endOffset]
		out = append(out, Chunk{
			Text:       chunkText,
			StartIndex: startOffset,
			EndIndex:   endOffset,
			TokenCount: estimateTokens(chunkText),
		})
		if end >= len(lines) {
			break
		}
	}
	return out, true, nil
}
