package textbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
)

func TestBuilder_BuildFileText_HTML(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "page.html", []byte("<h1>Title</h1><p>Body text</p>"))
	require.NoError(t, err)
	require.NotNil(t, e.TextualRepresentation)
	assert.Contains(t, *e.TextualRepresentation, "Title")
	assert.Contains(t, *e.TextualRepresentation, "Body text")
}

func TestBuilder_BuildFileText_CSV(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "data.csv", []byte("name,age\nalice,30\nbob,40\n"))
	require.NoError(t, err)
	require.NotNil(t, e.TextualRepresentation)
	assert.Contains(t, *e.TextualRepresentation, "| name | age |")
	assert.Contains(t, *e.TextualRepresentation, "alice")
}

func TestBuilder_BuildFileText_InvalidJSONFails(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "data.json", []byte("{not valid"))
	require.Error(t, err)
	var procErr *syncerrors.EntityProcessingError
	assert.ErrorAs(t, err, &procErr)
	assert.Nil(t, e.TextualRepresentation)
}

func TestBuilder_BuildFileText_ValidJSON(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "data.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.NotNil(t, e.TextualRepresentation)
	assert.Contains(t, *e.TextualRepresentation, "```json")
}

func TestBuilder_BuildFileText_UnsupportedExtensionLeavesTextNil(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "archive.zip", []byte("binary"))
	require.NoError(t, err)
	assert.Nil(t, e.TextualRepresentation)
}

func TestBuilder_BuildFileText_PDFRoutesToStubOCRAndLeavesTextNil(t *testing.T) {
	b := New(nil)
	e := &entity.Entity{EntityID: "e1"}
	err := b.BuildFileText(e, "doc.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Nil(t, e.TextualRepresentation)
}

func TestBuildNonFileText_ConcatenatesEmbeddableFieldsInOrder(t *testing.T) {
	entity.RegisterFields("TestWidget", map[string]entity.FieldFlags{
		"title":       {Embeddable: true, IsName: true},
		"description": {Embeddable: true},
		"internal_id": {},
	})
	entity.RegisterFieldOrder("TestWidget", []string{"title", "description", "internal_id"})

	e := &entity.Entity{
		EntityID: "w1",
		SystemMetadata: entity.SystemMetadata{EntityType: "TestWidget"},
		Properties: map[string]any{
			"title":       "My Widget",
			"description": "A widget for testing",
			"internal_id": "should-not-appear",
		},
	}
	BuildNonFileText(e)

	require.NotNil(t, e.TextualRepresentation)
	text := *e.TextualRepresentation
	assert.Contains(t, text, "title: My Widget")
	assert.Contains(t, text, "description: A widget for testing")
	assert.NotContains(t, text, "should-not-appear")
}
