package textbuilder

import "fmt"

// OCRAdapter extracts text from binary document/image formats (PDF, DOCX,
// PPTX, images) that have no pure-text representation. spec.md §4.6 names a
// Mistral OCR adapter; no OCR SDK or HTTP client for one ships anywhere in
// the example pack, so this seam is an interface with one stub
// implementation rather than a real integration — see DESIGN.md.
type OCRAdapter interface {
	ExtractText(content []byte, ext string) (string, error)
}

// StubOCRAdapter always fails, which BuildFileText treats the same as any
// other conversion failure: TextualRepresentation stays nil and the entity
// is dropped before embedding. Swap in a real provider client by
// implementing OCRAdapter and passing it to New.
type StubOCRAdapter struct{}

func (StubOCRAdapter) ExtractText(content []byte, ext string) (string, error) {
	return "", fmt.Errorf("textbuilder: no OCR adapter configured for %s", ext)
}

var _ OCRAdapter = StubOCRAdapter{}
