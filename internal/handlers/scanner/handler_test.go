package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

func testLogger() ports.Logger {
	return log.NewWriterLogger(log.Config{Level: log.LevelError, Format: log.FormatText}, io.Discard)
}

func foundBinary(string) (string, error) { return "/usr/local/bin/scanner", nil }

// scriptedRun returns a fixed exit code and records every invocation.
func scriptedRun(exitCode int, output string, calls *[][]string) RunFunc {
	return func(_ context.Context, _, _ string, args, _ []string) (int, []byte, error) {
		if calls != nil {
			*calls = append(*calls, args)
		}
		return exitCode, []byte(output), nil
	}
}

func trivyHandler(t *testing.T, options map[string]any, run RunFunc) *Handler {
	t.Helper()
	h, err := NewTrivy(context.Background(), options, run, foundBinary, testLogger())
	require.NoError(t, err)
	return h
}

func scanRequest(t *testing.T, stage domain.Stage, result *domain.TerraformResult) ports.HandlerRequest {
	t.Helper()
	dir := t.TempDir()
	return ports.HandlerRequest{
		Action:     domain.ActionPlan,
		Stage:      stage,
		Definition: &domain.Definition{Name: "network", PlanFile: filepath.Join(dir, "network.tfplan")},
		WorkingDir: dir,
		Result:     result,
	}
}

func TestExecute_CleanScanReportsNoFindings(t *testing.T) {
	var calls [][]string
	h := trivyHandler(t, map[string]any{}, scriptedRun(0, "", &calls))
	req := scanRequest(t, domain.StagePre, nil)

	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, false, res.Fields["findings"])
	require.Len(t, calls, 1)
	assert.Equal(t, "config", calls[0][0])
	assert.Contains(t, calls[0], req.WorkingDir)
}

func TestExecute_RequiredFindingDiscardsPlanAndTerminates(t *testing.T) {
	h := trivyHandler(t, map[string]any{"required": true}, scriptedRun(1, "CRITICAL: open security group", nil))
	req := scanRequest(t, domain.StagePost,
		domain.NewTerraformResult(domain.TerraformExitChanges, nil, nil))
	require.NoError(t, os.WriteFile(req.Definition.PlanFile, []byte("plan-bytes"), 0o600))
	planJSON := req.Definition.PlanFile + PlanJSONExt
	require.NoError(t, os.WriteFile(planJSON, []byte(`{"format_version":"1.2"}`), 0o644))

	_, err := h.Execute(context.Background(), req)
	require.Error(t, err)
	var herr *domain.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.True(t, herr.Terminate)
	assert.Contains(t, err.Error(), "open security group")
	assert.NoFileExists(t, req.Definition.PlanFile, "a plan that failed a required scan must not be reusable")
	assert.NoFileExists(t, planJSON)
}

func TestExecute_OptionalFindingContinues(t *testing.T) {
	h := trivyHandler(t, map[string]any{}, scriptedRun(1, "LOW: missing tags", nil))
	req := scanRequest(t, domain.StagePre, nil)

	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, true, res.Fields["findings"])
	assert.Equal(t, 1, res.Fields["exit_code"])
}

func TestExecute_PostPlanScansJSONOnlyOnChanges(t *testing.T) {
	var calls [][]string
	h := trivyHandler(t, map[string]any{}, scriptedRun(0, "", &calls))

	req := scanRequest(t, domain.StagePost,
		domain.NewTerraformResult(domain.TerraformExitClean, nil, nil))
	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, calls, "no scan without plan changes")

	req = scanRequest(t, domain.StagePost,
		domain.NewTerraformResult(domain.TerraformExitChanges, nil, nil))
	planJSON := req.Definition.PlanFile + PlanJSONExt
	require.NoError(t, os.WriteFile(planJSON, []byte(`{}`), 0o644))
	res, err = h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, planJSON, res.Fields["target"])
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], planJSON)
}

func TestExecute_PostPlanSkipsWhenJSONMissing(t *testing.T) {
	var calls [][]string
	h := trivyHandler(t, map[string]any{}, scriptedRun(0, "", &calls))
	req := scanRequest(t, domain.StagePost,
		domain.NewTerraformResult(domain.TerraformExitChanges, nil, nil))

	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, calls)
}

func TestTrivyOptions_ShapeArguments(t *testing.T) {
	var calls [][]string
	h := trivyHandler(t, map[string]any{
		"severity":  "HIGH,CRITICAL",
		"skip_dirs": []string{".terraform"},
	}, scriptedRun(0, "", &calls))
	req := scanRequest(t, domain.StagePre, nil)

	_, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "HIGH,CRITICAL")
	assert.Contains(t, calls[0], ".terraform")
}

func TestNewTrivy_MissingBinary(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	h, err := NewTrivy(context.Background(), map[string]any{}, nil, missing, testLogger())
	require.NoError(t, err)
	assert.False(t, h.IsReady(context.Background()), "optional scanner stays registered but not ready")

	_, err = NewTrivy(context.Background(), map[string]any{"required": true}, nil, missing, testLogger())
	require.Error(t, err, "required scanner fails construction")
}

func TestNewSnyk_RequiresToken(t *testing.T) {
	t.Setenv("SNYK_TOKEN", "")
	os.Unsetenv("SNYK_TOKEN")

	h, err := NewSnyk(context.Background(), map[string]any{}, nil, foundBinary, testLogger())
	require.NoError(t, err)
	assert.False(t, h.IsReady(context.Background()))

	t.Setenv("SNYK_TOKEN", "tok")
	h, err = NewSnyk(context.Background(), map[string]any{
		"severity_threshold": "high",
	}, nil, foundBinary, testLogger())
	require.NoError(t, err)
	assert.True(t, h.IsReady(context.Background()))
}

func TestNewSnyk_RejectsUnknownThreshold(t *testing.T) {
	_, err := NewSnyk(context.Background(), map[string]any{
		"severity_threshold": "blocker",
	}, nil, foundBinary, testLogger())
	require.Error(t, err)
}
