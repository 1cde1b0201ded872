package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airweave.dev/syncengine/entity"
)

type stubDriver struct {
	shortName string
}

func (s *stubDriver) Metadata() Metadata {
	return Metadata{Name: s.shortName, ShortName: s.shortName}
}
func (s *stubDriver) Validate(ctx context.Context, connectionID string) error { return nil }
func (s *stubDriver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (Page, error) {
	return Page{}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubDriver{shortName: "gitea"})
	r.Register(&stubDriver{shortName: "jira"})

	d, ok := r.Get("gitea")
	require.True(t, ok)
	assert.Equal(t, "gitea", d.Metadata().ShortName)

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"gitea", "jira"}, r.ShortNames())
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubDriver{shortName: "gitea"})
	assert.Panics(t, func() {
		r.Register(&stubDriver{shortName: "gitea"})
	})
}
