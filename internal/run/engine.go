// Package run drives one deployment end to end: definitions in declared
// order (reversed for destroy), each taken through init, the plan decision,
// plan, and conditionally apply or destroy, with the handler batches executed
// around every boundary.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/core/service"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
	"github.com/tfconvoy/tfconvoy/internal/tfgen"
)

// Options selects what one engine run does beyond planning.
type Options struct {
	Apply    bool
	Destroy  bool
	PlanOnly bool
	Force    bool
	Limit    []string
}

// Engine executes a deployment. Definitions are processed one at a time and
// handlers within a boundary run strictly in scheduler order; there is no
// concurrency here on purpose.
type Engine struct {
	deployment  string
	runID       string
	backend     ports.Backend
	definitions *service.DefinitionsCollection
	handlers    *service.HandlersCollection
	driver      ports.TerraformRunner
	fetcher     ports.SourceFetcher
	writer      *tfgen.Writer
	plans       *PlanController
	logger      ports.Logger
	workRoot    string

	globalTerraformVars map[string]string
	globalRemoteVars    map[string]string
}

type EngineParams struct {
	Deployment  string
	RunID       string
	Backend     ports.Backend
	Definitions *service.DefinitionsCollection
	Handlers    *service.HandlersCollection
	Driver      ports.TerraformRunner
	Fetcher     ports.SourceFetcher
	Writer      *tfgen.Writer
	Plans       *PlanController
	Logger      ports.Logger
	WorkRoot    string

	GlobalTerraformVars map[string]string
	GlobalRemoteVars    map[string]string
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		deployment:          p.Deployment,
		runID:               p.RunID,
		backend:             p.Backend,
		definitions:         p.Definitions,
		handlers:            p.Handlers,
		driver:              p.Driver,
		fetcher:             p.Fetcher,
		writer:              p.Writer,
		plans:               p.Plans,
		logger:              p.Logger.WithFields(map[string]any{"component": "engine", "deployment": p.Deployment}),
		workRoot:            p.WorkRoot,
		globalTerraformVars: p.GlobalTerraformVars,
		globalRemoteVars:    p.GlobalRemoteVars,
	}
}

// Run processes every definition surviving the limit filter. The returned
// records cover the definitions reached before any fatal error; the error,
// when non-nil, is the fatal condition that ended the run.
func (e *Engine) Run(ctx context.Context, opts Options) ([]domain.ExecutionRecord, error) {
	if err := e.definitions.ValidateLimit(opts.Limit); err != nil {
		return nil, err
	}
	if err := e.driver.CheckVersion(ctx); err != nil {
		return nil, err
	}

	defs := e.definitions.Ordered(opts.Limit)
	if opts.Destroy {
		defs = e.definitions.Reversed(opts.Limit)
	}
	e.logger.Infof(ctx, "run %s: %d definition(s)", e.runID, len(defs))

	var records []domain.ExecutionRecord
	for _, def := range defs {
		record, err := e.runDefinition(ctx, def, opts)
		records = append(records, record)
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

func (e *Engine) runDefinition(ctx context.Context, def *domain.Definition, opts Options) (domain.ExecutionRecord, error) {
	started := time.Now()
	record := domain.ExecutionRecord{Definition: def.Name, Action: domain.ActionPlan, Status: domain.StatusError}
	fail := func(err error) (domain.ExecutionRecord, error) {
		record.Error = err
		record.Duration = time.Since(started)
		return record, err
	}

	workingDir := filepath.Join(e.workRoot, def.Name)
	if err := e.fetcher.Fetch(ctx, def.Path, workingDir); err != nil {
		return fail(err)
	}

	terraformVars := def.TerraformVars.Effective(e.globalTerraformVars)
	remoteVars := def.RemoteVars.Effective(e.globalRemoteVars)
	if err := e.writer.WriteDefinition(ctx, workingDir, def, terraformVars, remoteVars); err != nil {
		return fail(err)
	}
	env := HooksEnv(e.deployment, e.runID, e.backend, def, terraformVars)

	if err := e.initDefinition(ctx, def, workingDir, env); err != nil {
		return fail(err)
	}

	planNeeded, planResult, err := e.planDefinition(ctx, def, workingDir, env, opts)
	if err != nil {
		return fail(err)
	}
	record.Changed = planResult != nil && planResult.HasChanges()
	record.PlanReused = !planNeeded

	proceed := e.plans.ShouldProceed(planNeeded, planResult, opts.Force)
	switch {
	case opts.Destroy && !opts.PlanOnly && proceed:
		record.Action = domain.ActionDestroy
		if err := e.execStep(ctx, def, workingDir, env, domain.ActionDestroy, ""); err != nil {
			return fail(err)
		}
		record.Status = domain.StatusDestroyed
	case opts.Apply && !opts.PlanOnly && proceed:
		record.Action = domain.ActionApply
		if err := e.execStep(ctx, def, workingDir, env, domain.ActionApply, def.PlanFile); err != nil {
			return fail(err)
		}
		record.Status = domain.StatusApplied
	case record.Changed || record.PlanReused:
		record.Status = domain.StatusPlanned
	default:
		record.Status = domain.StatusNoChanges
	}

	record.Duration = time.Since(started)
	e.logger.Infof(ctx, "definition %s: %s (%s)", def.Name, record.Status, record.Duration.Round(time.Millisecond))
	return record, nil
}

func (e *Engine) initDefinition(ctx context.Context, def *domain.Definition, workingDir string, env map[string]string) error {
	return e.execStep(ctx, def, workingDir, env, domain.ActionInit, "")
}

// planDefinition takes one definition through the plan boundary: pre-plan
// handlers may install a previously saved plan, the controller then decides
// whether a fresh run is needed, and a changed fresh plan leaves its log and
// JSON rendering next to the plan file for the post-plan handlers.
func (e *Engine) planDefinition(ctx context.Context, def *domain.Definition, workingDir string, env map[string]string, opts Options) (bool, *domain.TerraformResult, error) {
	if err := e.plans.ResolvePlanFile(e.deployment, def, workingDir); err != nil {
		return false, nil, err
	}
	if err := e.boundary(ctx, domain.ActionPlan, domain.StagePre, def, workingDir, nil); err != nil {
		return false, nil, err
	}

	planNeeded, err := e.plans.PlanNeeded(ctx, def)
	if err != nil {
		return false, nil, err
	}

	var result *domain.TerraformResult
	if planNeeded {
		result, err = e.driver.Exec(ctx, ports.TerraformRequest{
			Action:     domain.ActionPlan,
			WorkingDir: workingDir,
			PlanFile:   def.PlanFile,
			Destroy:    opts.Destroy,
			Env:        env,
		})
		if err != nil {
			return planNeeded, nil, err
		}
		if result.Failed() {
			return planNeeded, result, terraformFailure(domain.ActionPlan, def.Name, result)
		}
		if err := e.writePlanArtifacts(ctx, def, workingDir, result); err != nil {
			return planNeeded, result, err
		}
	}

	if err := e.boundary(ctx, domain.ActionPlan, domain.StagePost, def, workingDir, result); err != nil {
		return planNeeded, result, err
	}
	return planNeeded, result, nil
}

// writePlanArtifacts records a changed plan's log and JSON rendering next to
// the plan file. The log feeds plan replication; the JSON feeds the scan and
// summary handlers.
func (e *Engine) writePlanArtifacts(ctx context.Context, def *domain.Definition, workingDir string, result *domain.TerraformResult) error {
	if !result.HasChanges() || def.PlanFile == "" {
		return nil
	}
	logPath := def.PlanFile + backend.PlanLogExt
	if err := os.WriteFile(logPath, result.Stdout, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to write plan log %s", logPath))
	}

	planJSON, err := e.driver.ShowPlanJSON(ctx, workingDir, def.PlanFile)
	if err != nil {
		return err
	}
	jsonPath := def.PlanFile + ".json"
	if err := os.WriteFile(jsonPath, planJSON, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to write plan JSON %s", jsonPath))
	}
	return nil
}

// execStep runs one terraform action inside its pre/post handler boundaries.
func (e *Engine) execStep(ctx context.Context, def *domain.Definition, workingDir string, env map[string]string, action domain.Action, planFile string) error {
	if err := e.boundary(ctx, action, domain.StagePre, def, workingDir, nil); err != nil {
		return err
	}
	result, err := e.driver.Exec(ctx, ports.TerraformRequest{
		Action:     action,
		WorkingDir: workingDir,
		PlanFile:   planFile,
		Env:        env,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		// Post handlers still see the failed result before the run aborts:
		// notification targets want failures, not only successes.
		if herr := e.boundary(ctx, action, domain.StagePost, def, workingDir, result); herr != nil {
			e.logger.Errorf(ctx, herr, "post-%s handlers failed while reporting a terraform failure", action)
		}
		return terraformFailure(action, def.Name, result)
	}
	return e.boundary(ctx, action, domain.StagePost, def, workingDir, result)
}

func (e *Engine) boundary(ctx context.Context, action domain.Action, stage domain.Stage, def *domain.Definition, workingDir string, result *domain.TerraformResult) error {
	return e.handlers.ExecHandlers(ctx, ports.HandlerRequest{
		Action:     action,
		Stage:      stage,
		Deployment: e.deployment,
		RunID:      e.runID,
		Definition: def,
		WorkingDir: workingDir,
		Result:     result,
	})
}

func terraformFailure(action domain.Action, name string, result *domain.TerraformResult) error {
	return apperrors.NewUserFacing(apperrors.CodeTerraformError,
		fmt.Sprintf("terraform %s failed for %s (exit %d): %s",
			action, name, result.ExitCode, result.StderrString()),
		"Inspect the terraform output above and the definition's working directory.")
}
