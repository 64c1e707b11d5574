package tfgen

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

type stubBackend struct {
	remotes []string
}

func (s *stubBackend) Type() string                      { return "s3" }
func (s *stubBackend) EnsureReady(context.Context) error { return nil }
func (s *stubBackend) HCL(name string) string {
	return "terraform {\n  backend \"s3\" {\n    key = \"" + name + "/terraform.tfstate\"\n  }\n}\n"
}
func (s *stubBackend) DataHCL(remotes []string) string {
	var sb strings.Builder
	for _, r := range remotes {
		sb.WriteString("data \"terraform_remote_state\" \"" + r + "\" {}\n")
	}
	return sb.String()
}
func (s *stubBackend) Remotes() []string          { return s.remotes }
func (s *stubBackend) HookEnv() map[string]string { return nil }
func (s *stubBackend) Clean(context.Context, string, []string) error {
	return nil
}

func testLogger() ports.Logger {
	return log.NewWriterLogger(log.Config{Level: log.LevelError, Format: log.FormatText}, io.Discard)
}

func TestWriteDefinition(t *testing.T) {
	be := &stubBackend{remotes: []string{"network", "db", "app"}}
	w := NewWriter(be, "provider \"aws\" {\n  region = \"eu-west-1\"\n}", testLogger())
	dir := t.TempDir()
	def := &domain.Definition{Name: "app"}

	err := w.WriteDefinition(context.Background(), dir, def,
		map[string]string{"environment": "prod"},
		map[string]string{"vpc_id": "network.vpc_id"})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, GeneratedFilename))
	require.NoError(t, err)
	generated := string(raw)

	assert.Contains(t, generated, `key = "app/terraform.tfstate"`)
	assert.Contains(t, generated, `data "terraform_remote_state" "network"`)
	assert.Contains(t, generated, `data "terraform_remote_state" "db"`)
	assert.NotContains(t, generated, `data "terraform_remote_state" "app"`,
		"a definition never reads its own state")
	assert.Contains(t, generated, "vpc_id = data.terraform_remote_state.network.outputs.vpc_id")
	assert.Contains(t, generated, `provider "aws"`)

	tfvarsRaw, err := os.ReadFile(filepath.Join(dir, TfvarsFilename))
	require.NoError(t, err)
	var tfvars map[string]string
	require.NoError(t, json.Unmarshal(tfvarsRaw, &tfvars))
	assert.Equal(t, map[string]string{"environment": "prod"}, tfvars)
}

func TestWriteDefinition_NoRemoteVars(t *testing.T) {
	be := &stubBackend{remotes: []string{"app"}}
	w := NewWriter(be, "", testLogger())
	dir := t.TempDir()

	err := w.WriteDefinition(context.Background(), dir, &domain.Definition{Name: "app"}, nil, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, GeneratedFilename))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "locals")
	assert.NotContains(t, string(raw), "terraform_remote_state")
}

func TestWriteDefinition_RejectsMalformedRemoteRef(t *testing.T) {
	w := NewWriter(&stubBackend{}, "", testLogger())
	dir := t.TempDir()

	err := w.WriteDefinition(context.Background(), dir, &domain.Definition{Name: "app"},
		nil, map[string]string{"vpc_id": "no-dot-here"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition.output")
}

func TestOtherRemotes(t *testing.T) {
	assert.Equal(t, []string{"network", "db"}, otherRemotes([]string{"network", "db", "app"}, "app"))
	assert.Empty(t, otherRemotes([]string{"app"}, "app"))
}
