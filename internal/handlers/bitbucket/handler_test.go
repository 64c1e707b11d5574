package bitbucket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

type recordedStatus struct {
	path   string
	auth   string
	status buildStatus
}

func statusServer(t *testing.T, code int, recorded *[]recordedStatus) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var status buildStatus
		require.NoError(t, json.Unmarshal(raw, &status))
		*recorded = append(*recorded, recordedStatus{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			status: status,
		})
		w.WriteHeader(code)
	}))
}

func testLogger() ports.Logger {
	return log.NewWriterLogger(log.Config{Level: log.LevelError, Format: log.FormatText}, io.Discard)
}

func testHandler(t *testing.T, baseURL string, extra map[string]any) *Handler {
	t.Helper()
	t.Setenv("BITBUCKET_TOKEN", "test-token")
	options := map[string]any{
		"workspace": "acme",
		"repo_slug": "infra",
		"commit":    "0123456789abcdef",
		"base_url":  baseURL,
	}
	for k, v := range extra {
		options[k] = v
	}
	h, err := New(context.Background(), options, nil, testLogger())
	require.NoError(t, err)
	return h
}

func postRequest(action domain.Action, exitCode int) ports.HandlerRequest {
	return ports.HandlerRequest{
		Action:     action,
		Stage:      domain.StagePost,
		Deployment: "prod",
		Definition: &domain.Definition{Name: "network"},
		Result:     domain.NewTerraformResult(exitCode, nil, nil),
	}
}

func TestExecute_ReportsSuccessfulStatus(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()
	h := testHandler(t, srv.URL, nil)

	res, err := h.Execute(context.Background(), postRequest(domain.ActionApply, domain.TerraformExitClean))
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, recorded, 1)
	assert.Equal(t, "/repositories/acme/infra/commit/0123456789abcdef/statuses/build", recorded[0].path)
	assert.Equal(t, "Bearer test-token", recorded[0].auth)
	assert.Equal(t, "SUCCESSFUL", recorded[0].status.State)
	assert.Equal(t, "tfconvoy/apply/network", recorded[0].status.Key)
	assert.Equal(t, "SUCCESSFUL", res.Fields["state"])
}

func TestExecute_FailedResultReportsFailed(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()
	h := testHandler(t, srv.URL, nil)

	_, err := h.Execute(context.Background(), postRequest(domain.ActionPlan, domain.TerraformExitError))
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "FAILED", recorded[0].status.State)
}

func TestExecute_ChangedPlanIsSuccessful(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()
	h := testHandler(t, srv.URL, nil)

	_, err := h.Execute(context.Background(), postRequest(domain.ActionPlan, domain.TerraformExitChanges))
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "SUCCESSFUL", recorded[0].status.State, "plan exit 2 means changes, not failure")
}

func TestExecute_PreStageReportsInProgress(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()
	h := testHandler(t, srv.URL, nil)

	req := postRequest(domain.ActionApply, domain.TerraformExitClean)
	req.Stage = domain.StagePre
	req.Result = nil
	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, recorded, 1)
	assert.Equal(t, "INPROGRESS", recorded[0].status.State)
	assert.Equal(t, "tfconvoy/apply/network", recorded[0].status.Key,
		"pre and post share one build key so the terminal status overwrites this one")

	_, err = h.Execute(context.Background(), postRequest(domain.ActionApply, domain.TerraformExitClean))
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, "SUCCESSFUL", recorded[1].status.State)
	assert.Equal(t, recorded[0].status.Key, recorded[1].status.Key)
}

func TestExecute_SkipsPostWithoutResult(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()
	h := testHandler(t, srv.URL, nil)

	req := postRequest(domain.ActionPlan, domain.TerraformExitClean)
	req.Result = nil
	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, recorded)
}

func TestExecute_SkipsWithoutCommit(t *testing.T) {
	var recorded []recordedStatus
	srv := statusServer(t, http.StatusCreated, &recorded)
	defer srv.Close()

	t.Setenv("BITBUCKET_TOKEN", "test-token")
	t.Setenv("BITBUCKET_COMMIT", "")
	h, err := New(context.Background(), map[string]any{
		"workspace": "acme",
		"repo_slug": "infra",
		"base_url":  srv.URL,
	}, nil, testLogger())
	require.NoError(t, err)

	res, err := h.Execute(context.Background(), postRequest(domain.ActionApply, domain.TerraformExitClean))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, recorded)
}

func TestExecute_APIErrorRespectsRequiredFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"no such commit"}}`, http.StatusNotFound)
	}))
	defer srv.Close()
	h := testHandler(t, srv.URL, map[string]any{"required": true})

	_, err := h.Execute(context.Background(), postRequest(domain.ActionApply, domain.TerraformExitClean))
	require.Error(t, err)
	var herr *domain.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.True(t, herr.Terminate)
}

func TestNew_RequiresWorkspaceAndRepo(t *testing.T) {
	t.Setenv("BITBUCKET_TOKEN", "test-token")
	_, err := New(context.Background(), map[string]any{"workspace": "acme"}, nil, testLogger())
	require.Error(t, err)
}

func TestNew_MissingTokenFollowsRequiredPolicy(t *testing.T) {
	t.Setenv("BITBUCKET_TOKEN", "")
	options := map[string]any{"workspace": "acme", "repo_slug": "infra"}

	h, err := New(context.Background(), options, nil, testLogger())
	require.NoError(t, err)
	assert.False(t, h.IsReady(context.Background()))

	options["required"] = true
	_, err = New(context.Background(), options, nil, testLogger())
	require.Error(t, err)
}
