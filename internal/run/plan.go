package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// PlanState tracks one definition through the plan decision.
type PlanState string

const (
	StateNeedsPlan    PlanState = "needs-plan"
	StatePlanInFlight PlanState = "plan-in-flight"
	StateReadyToApply PlanState = "ready-to-apply"
	StateSkipped      PlanState = "skipped"
)

// PlanExt is the saved plan file extension.
const PlanExt = ".tfplan"

// PlanController decides per definition whether a fresh plan run is needed
// and where its plan file lives. Reuse of existing plan files only happens
// when plan persistence is configured (a local plan path or backend plan
// storage); without it every run plans from scratch into the working dir.
type PlanController struct {
	planFilePath string
	reuseEnabled bool
	logger       ports.Logger
}

func NewPlanController(planFilePath string, backendStorage bool, logger ports.Logger) *PlanController {
	return &PlanController{
		planFilePath: planFilePath,
		reuseEnabled: planFilePath != "" || backendStorage,
		logger:       logger.WithFields(map[string]any{"component": "plans"}),
	}
}

// ResolvePlanFile computes the definition's plan file path and records it on
// the definition, creating the parent directory. Handlers and the driver read
// the path from the definition afterwards.
func (c *PlanController) ResolvePlanFile(deployment string, def *domain.Definition, workingDir string) error {
	var path string
	if c.planFilePath != "" {
		path = filepath.Join(c.planFilePath, deployment, def.Name+PlanExt)
	} else {
		path = filepath.Join(workingDir, "plans", def.Name+PlanExt)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to create plan directory for %s", def.Name))
	}
	def.PlanFile = path
	return nil
}

// PlanNeeded reports whether the definition needs a fresh plan run. An
// existing non-empty plan file is reusable and the only way to force a
// replan is deleting it; an existing zero-byte file is deleted here and
// treated as absent.
func (c *PlanController) PlanNeeded(ctx context.Context, def *domain.Definition) (bool, error) {
	if !c.reuseEnabled {
		return true, nil
	}

	info, err := os.Stat(def.PlanFile)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to inspect plan file %s", def.PlanFile))
	}
	if info.Size() == 0 {
		c.logger.Warnf(ctx, "removing empty plan file %s", def.PlanFile)
		if err := os.Remove(def.PlanFile); err != nil && !os.IsNotExist(err) {
			return false, apperrors.Wrap(err, apperrors.CodePlanError,
				fmt.Sprintf("failed to remove empty plan file %s", def.PlanFile))
		}
		return true, nil
	}

	c.logger.Infof(ctx, "reusing plan file %s", def.PlanFile)
	return false, nil
}

// ShouldProceed decides apply/destroy eligibility after the plan phase:
// a reused plan, a same-run plan with changes, or an explicit force.
func (c *PlanController) ShouldProceed(planNeeded bool, result *domain.TerraformResult, force bool) bool {
	if force {
		return true
	}
	if !planNeeded {
		return true
	}
	return result != nil && result.HasChanges()
}
