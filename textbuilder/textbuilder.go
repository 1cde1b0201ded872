// Package textbuilder implements the C6 text builder (spec.md §4.6): it
// converts a downloaded file's bytes into the markdown-ish plain text the
// chunker and embedder consume, and — for entities with no file payload —
// concatenates the fields an entity_type's FieldTable marks embeddable.
// A failed conversion sets TextualRepresentation to nil, which the pipeline
// then drops before the embedding stage (spec.md §4.6).
package textbuilder

import (
	"fmt"
	"path"
	"strings"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
)

// Converter turns one file's raw bytes into plain/markdown text.
type Converter interface {
	Convert(content []byte) (string, error)
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(content []byte) (string, error)

func (f ConverterFunc) Convert(content []byte) (string, error) { return f(content) }

// Builder dispatches a file's extension to its registered Converter, and
// falls back to OCR for binary formats no pure-text converter can handle.
type Builder struct {
	converters map[string]Converter
	ocr        OCRAdapter
}

// New builds a Builder with the spec.md §4.6 converter set registered:
// html/htm, xlsx, csv/json/xml/txt/md/yaml/toml. ocr handles pdf/docx/pptx/
// images; pass nil to use the documented-behavior stub.
func New(ocr OCRAdapter) *Builder {
	if ocr == nil {
		ocr = StubOCRAdapter{}
	}
	b := &Builder{converters: make(map[string]Converter), ocr: ocr}
	b.Register(".html", ConverterFunc(convertHTML))
	b.Register(".htm", ConverterFunc(convertHTML))
	b.Register(".xlsx", ConverterFunc(convertXLSX))
	b.Register(".csv", ConverterFunc(convertCSV))
	b.Register(".json", ConverterFunc(convertJSON))
	b.Register(".xml", ConverterFunc(convertXML))
	b.Register(".txt", ConverterFunc(convertPlain))
	b.Register(".md", ConverterFunc(convertPlain))
	b.Register(".yaml", ConverterFunc(convertYAML))
	b.Register(".yml", ConverterFunc(convertYAML))
	b.Register(".toml", ConverterFunc(convertTOML))
	return b
}

// Register installs (or overrides) the converter used for ext (including
// the leading dot, e.g. ".csv").
func (b *Builder) Register(ext string, c Converter) {
	b.converters[ext] = c
}

// ocrExtensions routes straight to the OCR adapter rather than a text
// converter.
var ocrExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".gif": true,
}

// BuildFileText sets e.TextualRepresentation from content, dispatched by
// filename's extension. A conversion failure (or an unsupported extension)
// leaves TextualRepresentation nil rather than returning an error, except
// for JSON, whose syntax errors surface as EntityProcessingError per
// spec.md §4.6 ("JSON with invalid syntax fails with EntityProcessingError").
func (b *Builder) BuildFileText(e *entity.Entity, filename string, content []byte) error {
	ext := strings.ToLower(path.Ext(filename))

	if ocrExtensions[ext] {
		text, err := b.ocr.ExtractText(content, ext)
		if err != nil {
			e.TextualRepresentation = nil
			return nil
		}
		e.TextualRepresentation = &text
		return nil
	}

	conv, ok := b.converters[ext]
	if !ok {
		e.TextualRepresentation = nil
		return nil
	}

	text, err := conv.Convert(content)
	if err != nil {
		if ext == ".json" {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "text_builder", Err: err}
		}
		e.TextualRepresentation = nil
		return nil
	}
	e.TextualRepresentation = &text
	return nil
}

// BuildNonFileText implements spec.md §4.6's "for non-file entities, text is
// built by concatenating the values of fields flagged embeddable=True ... in
// a stable order, with field-name prefixes." Fields come from e.Properties;
// a field absent from Properties is skipped.
func BuildNonFileText(e *entity.Entity) {
	names := entity.EmbeddableFields(e.SystemMetadata.EntityType)
	if len(names) == 0 {
		return
	}
	var sb strings.Builder
	for _, name := range names {
		v, ok := e.Properties[name]
		if !ok || v == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s: %v\n", name, v)
	}
	if sb.Len() == 0 {
		return
	}
	text := sb.String()
	e.TextualRepresentation = &text
}
