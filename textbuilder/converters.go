package textbuilder

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// convertHTML renders an .html/.htm file as markdown.
func convertHTML(content []byte) (string, error) {
	md, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return "", fmt.Errorf("textbuilder: convert html: %w", err)
	}
	return md, nil
}

// convertXLSX walks every sheet and emits one markdown table per sheet,
// replacing spec.md §4.6's openpyxl cell walk.
func convertXLSX(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("textbuilder: open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("textbuilder: read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", sheet)
		writeMarkdownTable(&sb, rows)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// convertCSV renders the file as a single markdown table.
func convertCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("textbuilder: parse csv: %w", err)
	}
	var sb strings.Builder
	writeMarkdownTable(&sb, rows)
	return sb.String(), nil
}

func writeMarkdownTable(sb *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for _, c := range cells {
			sb.WriteString(" " + strings.ReplaceAll(c, "|", "\\|") + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sb.WriteString("|")
	for range rows[0] {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
}

// convertJSON pretty-prints valid JSON inside a fenced block; invalid JSON
// is a hard failure (spec.md §4.6).
func convertJSON(content []byte) (string, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return "", fmt.Errorf("textbuilder: invalid json: %w", err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("textbuilder: re-marshal json: %w", err)
	}
	return fence("json", string(pretty)), nil
}

// convertXML pretty-prints XML inside a fenced block. Malformed XML falls
// back to the raw bytes rather than failing, since spec.md §4.6 only
// singles out JSON as a hard failure.
func convertXML(content []byte) (string, error) {
	var buf bytes.Buffer
	decoder := xml.NewDecoder(bytes.NewReader(content))
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fence("xml", string(content)), nil
		}
		if err := encoder.EncodeToken(tok); err != nil {
			return fence("xml", string(content)), nil
		}
	}
	_ = encoder.Flush()
	if buf.Len() == 0 {
		return fence("xml", string(content)), nil
	}
	return fence("xml", buf.String()), nil
}

// convertYAML normalizes the document by round-tripping it and pretty-
// prints inside a fenced block; a parse failure falls back to the raw text.
func convertYAML(content []byte) (string, error) {
	var v any
	if err := yaml.Unmarshal(content, &v); err != nil {
		return fence("yaml", string(content)), nil
	}
	pretty, err := yaml.Marshal(v)
	if err != nil {
		return fence("yaml", string(content)), nil
	}
	return fence("yaml", string(pretty)), nil
}

// convertTOML normalizes the document and pretty-prints it inside a fenced
// block; a parse failure falls back to the raw text.
func convertTOML(content []byte) (string, error) {
	var v map[string]any
	if err := toml.Unmarshal(content, &v); err != nil {
		return fence("toml", string(content)), nil
	}
	pretty, err := toml.Marshal(v)
	if err != nil {
		return fence("toml", string(content)), nil
	}
	return fence("toml", string(pretty)), nil
}

// convertPlain passes .txt/.md content through untouched.
func convertPlain(content []byte) (string, error) {
	return string(content), nil
}

func fence(lang, body string) string {
	return "```" + lang + "\n" + strings.TrimRight(body, "\n") + "\n```"
}
