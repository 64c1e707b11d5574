package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

func buildDefinitions(t *testing.T, names ...string) *DefinitionsCollection {
	t.Helper()
	c := NewDefinitionsCollection()
	for _, name := range names {
		require.NoError(t, c.Add(&domain.Definition{Name: name, Path: "./" + name}))
	}
	c.Freeze()
	return c
}

func names(defs []*domain.Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func TestDefinitionsCollection_Order(t *testing.T) {
	c := buildDefinitions(t, "network", "db", "app")

	assert.Equal(t, []string{"network", "db", "app"}, names(c.Ordered(nil)))
	assert.Equal(t, []string{"app", "db", "network"}, names(c.Reversed(nil)))
}

func TestDefinitionsCollection_Limit(t *testing.T) {
	c := NewDefinitionsCollection()
	require.NoError(t, c.Add(&domain.Definition{Name: "base", AlwaysInclude: true}))
	require.NoError(t, c.Add(&domain.Definition{Name: "db"}))
	require.NoError(t, c.Add(&domain.Definition{Name: "app"}))
	c.Freeze()

	// base bypasses the limiter.
	assert.Equal(t, []string{"base", "app"}, names(c.Ordered([]string{"app"})))

	require.NoError(t, c.ValidateLimit([]string{"db", "app"}))
	err := c.ValidateLimit([]string{"typo"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigValidation, errors.GetCode(err))
}

func TestDefinitionsCollection_DuplicateAndFreeze(t *testing.T) {
	c := NewDefinitionsCollection()
	require.NoError(t, c.Add(&domain.Definition{Name: "db"}))

	err := c.Add(&domain.Definition{Name: "db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")

	c.Freeze()
	err = c.Add(&domain.Definition{Name: "app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")

	def, ok := c.Get("db")
	require.True(t, ok)
	assert.Equal(t, "db", def.Name)
}
