package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

func testLogger() ports.Logger {
	return log.NewWriterLogger(log.Config{Level: log.LevelError, Format: log.FormatText}, io.Discard)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestFetch_CopiesTree(t *testing.T) {
	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"main.tf":          `resource "aws_vpc" "main" {}`,
		"variables.tf":     `variable "region" {}`,
		"modules/vpc/x.tf": `locals {}`,
	})
	destination := filepath.Join(t.TempDir(), "work")

	f := NewLocalFetcher(testLogger())
	require.NoError(t, f.Fetch(context.Background(), source, destination))

	raw, err := os.ReadFile(filepath.Join(destination, "main.tf"))
	require.NoError(t, err)
	assert.Equal(t, `resource "aws_vpc" "main" {}`, string(raw))
	assert.FileExists(t, filepath.Join(destination, "modules", "vpc", "x.tf"))
}

func TestFetch_SkipsScratchAndVCSDirs(t *testing.T) {
	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"main.tf":                     "",
		".terraform/providers/x":      "cached provider",
		".git/HEAD":                   "ref: refs/heads/main",
		"modules/.terraform/state.db": "nested scratch",
	})
	destination := filepath.Join(t.TempDir(), "work")

	f := NewLocalFetcher(testLogger())
	require.NoError(t, f.Fetch(context.Background(), source, destination))

	assert.FileExists(t, filepath.Join(destination, "main.tf"))
	assert.NoDirExists(t, filepath.Join(destination, ".terraform"))
	assert.NoDirExists(t, filepath.Join(destination, ".git"))
	assert.NoDirExists(t, filepath.Join(destination, "modules", ".terraform"))
}

func TestFetch_MissingSource(t *testing.T) {
	f := NewLocalFetcher(testLogger())
	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	require.Error(t, err)
}

func TestFetch_SourceMustBeDirectory(t *testing.T) {
	source := filepath.Join(t.TempDir(), "main.tf")
	require.NoError(t, os.WriteFile(source, []byte(""), 0o644))

	f := NewLocalFetcher(testLogger())
	err := f.Fetch(context.Background(), source, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
