package run

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/core/service"
	"github.com/tfconvoy/tfconvoy/internal/tfgen"
)

// scriptedDriver returns configured exit codes per action and records the
// invocation sequence.
type scriptedDriver struct {
	exitCodes map[domain.Action]int
	calls     []string
}

func (d *scriptedDriver) CheckVersion(context.Context) error { return nil }

func (d *scriptedDriver) Exec(ctx context.Context, req ports.TerraformRequest) (*domain.TerraformResult, error) {
	d.calls = append(d.calls, fmt.Sprintf("%s:%s", req.Action, req.Env["TFCONVOY_DEFINITION"]))
	code := d.exitCodes[req.Action]
	if req.Action == domain.ActionPlan && code == domain.TerraformExitChanges && req.PlanFile != "" {
		if err := os.WriteFile(req.PlanFile, []byte("plan-bytes"), 0o600); err != nil {
			return nil, err
		}
	}
	return domain.NewTerraformResult(code, []byte("out"), nil), nil
}

func (d *scriptedDriver) ShowPlanJSON(context.Context, string, string) ([]byte, error) {
	return []byte(`{"format_version":"1.2"}`), nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, _, destination string) error {
	return os.MkdirAll(destination, 0o755)
}

func testEngine(t *testing.T, driver *scriptedDriver, defs ...string) *Engine {
	t.Helper()
	logger := testLogger()

	definitions := service.NewDefinitionsCollection()
	for _, name := range defs {
		require.NoError(t, definitions.Add(&domain.Definition{Name: name, Path: "./" + name}))
	}
	definitions.Freeze()

	handlers := service.NewHandlersCollection(logger)
	handlers.Freeze()

	be := &stubBackend{env: map[string]string{}}
	return NewEngine(EngineParams{
		Deployment:  "prod",
		RunID:       "run-1",
		Backend:     be,
		Definitions: definitions,
		Handlers:    handlers,
		Driver:      driver,
		Fetcher:     stubFetcher{},
		Writer:      tfgen.NewWriter(be, "", logger),
		Plans:       NewPlanController("", false, logger),
		Logger:      logger,
		WorkRoot:    t.TempDir(),
	})
}

func TestEngine_PlanAndApply(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{
		domain.ActionPlan: domain.TerraformExitChanges,
	}}
	e := testEngine(t, driver, "network")

	records, err := e.Run(context.Background(), Options{Apply: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusApplied, records[0].Status)
	assert.True(t, records[0].Changed)
	assert.Equal(t, []string{"init:network", "plan:network", "apply:network"}, driver.calls)
}

func TestEngine_NoChangesSkipsApply(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{}}
	e := testEngine(t, driver, "network")

	records, err := e.Run(context.Background(), Options{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoChanges, records[0].Status)
	assert.Equal(t, []string{"init:network", "plan:network"}, driver.calls)
}

func TestEngine_ForceAppliesWithoutChanges(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{}}
	e := testEngine(t, driver, "network")

	records, err := e.Run(context.Background(), Options{Apply: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, records[0].Status)
}

func TestEngine_DestroyRunsInReverseOrder(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{
		domain.ActionPlan: domain.TerraformExitChanges,
	}}
	e := testEngine(t, driver, "network", "db", "app")

	records, err := e.Run(context.Background(), Options{Destroy: true})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "app", records[0].Definition)
	assert.Equal(t, "network", records[2].Definition)
	assert.Equal(t, domain.StatusDestroyed, records[0].Status)
	assert.Contains(t, driver.calls, "destroy:app")
}

func TestEngine_DestroyWithNoChangesSkipsDestroy(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{}}
	e := testEngine(t, driver, "network")

	records, err := e.Run(context.Background(), Options{Destroy: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusNoChanges, records[0].Status)
	assert.Equal(t, []string{"init:network", "plan:network"}, driver.calls,
		"a clean destroy plan must not run terraform destroy")
}

func TestEngine_ForceDestroysWithoutChanges(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{}}
	e := testEngine(t, driver, "network")

	records, err := e.Run(context.Background(), Options{Destroy: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDestroyed, records[0].Status)
	assert.Contains(t, driver.calls, "destroy:network")
}

func TestEngine_PlanErrorAbortsRun(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{
		domain.ActionPlan: domain.TerraformExitError,
	}}
	e := testEngine(t, driver, "network", "db")

	records, err := e.Run(context.Background(), Options{Apply: true})
	require.Error(t, err)
	require.Len(t, records, 1, "the second definition must not start")
	assert.Equal(t, domain.StatusError, records[0].Status)
}

func TestEngine_UnknownLimitFailsEarly(t *testing.T) {
	driver := &scriptedDriver{exitCodes: map[domain.Action]int{}}
	e := testEngine(t, driver, "network")

	_, err := e.Run(context.Background(), Options{Limit: []string{"typo"}})
	require.Error(t, err)
	assert.Empty(t, driver.calls)
}
