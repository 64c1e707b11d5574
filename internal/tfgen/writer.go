// Package tfgen writes the supporting terraform files each definition needs
// before init: the backend block, cross-definition remote state data sources,
// raw provider passthrough, and the effective variable file. Provider blocks
// arrive as opaque HCL strings from configuration; this package never parses
// terraform syntax, only emits it.
package tfgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	jsoniter "github.com/json-iterator/go"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

const (
	// GeneratedFilename is the terraform file written into each working dir.
	GeneratedFilename = "_tfconvoy.tf"
	// TfvarsFilename carries the definition's effective terraform variables;
	// the .auto.tfvars.json suffix makes terraform load it implicitly.
	TfvarsFilename = "_tfconvoy.auto.tfvars.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer renders the generated files for one deployment's definitions.
type Writer struct {
	backend      ports.Backend
	providersHCL string
	logger       ports.Logger
}

func NewWriter(backend ports.Backend, providersHCL string, logger ports.Logger) *Writer {
	return &Writer{
		backend:      backend,
		providersHCL: providersHCL,
		logger:       logger.WithFields(map[string]any{"component": "tfgen"}),
	}
}

// WriteDefinition writes the generated terraform file and the tfvars file
// into dir. terraformVars and remoteVars are the definition's effective maps,
// override rules already applied.
func (w *Writer) WriteDefinition(ctx context.Context, dir string, def *domain.Definition, terraformVars, remoteVars map[string]string) error {
	var sb strings.Builder

	sb.WriteString(w.backend.HCL(def.Name))

	remotes := otherRemotes(w.backend.Remotes(), def.Name)
	if len(remotes) > 0 {
		sb.WriteString("\n")
		sb.WriteString(w.backend.DataHCL(remotes))
	}

	if len(remoteVars) > 0 {
		locals, err := encodeRemoteLocals(remoteVars)
		if err != nil {
			return err
		}
		sb.WriteString("\n")
		sb.WriteString(locals)
	}

	if w.providersHCL != "" {
		sb.WriteString("\n")
		sb.WriteString(w.providersHCL)
		if !strings.HasSuffix(w.providersHCL, "\n") {
			sb.WriteString("\n")
		}
	}

	tfPath := filepath.Join(dir, GeneratedFilename)
	if err := os.WriteFile(tfPath, []byte(sb.String()), 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.CodeGenerateError,
			fmt.Sprintf("failed to write %s", tfPath))
	}

	if err := w.writeTfvars(dir, terraformVars); err != nil {
		return err
	}

	w.logger.Debugf(ctx, "generated %s and %s for %s", GeneratedFilename, TfvarsFilename, def.Name)
	return nil
}

func (w *Writer) writeTfvars(dir string, terraformVars map[string]string) error {
	raw, err := json.MarshalIndent(terraformVars, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeGenerateError, "failed to encode tfvars")
	}
	path := filepath.Join(dir, TfvarsFilename)
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.CodeGenerateError,
			fmt.Sprintf("failed to write %s", path))
	}
	return nil
}

// encodeRemoteLocals turns remote variable references ("definition.output")
// into a locals block reading the matching remote state data source.
func encodeRemoteLocals(remoteVars map[string]string) (string, error) {
	names := make([]string, 0, len(remoteVars))
	for name := range remoteVars {
		names = append(names, name)
	}
	sort.Strings(names)

	f := hclwrite.NewEmptyFile()
	locals := f.Body().AppendNewBlock("locals", nil)
	for _, name := range names {
		ref := remoteVars[name]
		remote, output, found := strings.Cut(ref, ".")
		if !found || remote == "" || output == "" {
			return "", apperrors.NewUserFacing(apperrors.CodeGenerateError,
				fmt.Sprintf("remote var %q must be definition.output, got %q", name, ref),
				"Use the form <definition>.<output-name> for remote_vars values.")
		}
		locals.Body().SetAttributeTraversal(name, hcl.Traversal{
			hcl.TraverseRoot{Name: "data"},
			hcl.TraverseAttr{Name: "terraform_remote_state"},
			hcl.TraverseAttr{Name: remote},
			hcl.TraverseAttr{Name: "outputs"},
			hcl.TraverseAttr{Name: output},
		})
	}
	return string(f.Bytes()), nil
}

// otherRemotes drops the definition's own name: a definition never reads its
// own state through a data source.
func otherRemotes(remotes []string, self string) []string {
	out := make([]string, 0, len(remotes))
	for _, r := range remotes {
		if r != self {
			out = append(out, r)
		}
	}
	return out
}
