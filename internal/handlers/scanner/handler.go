package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
)

// PlanJSONExt names the plan's JSON rendering written next to a changed plan
// file; the post-plan scan reads it instead of the binary plan archive.
const PlanJSONExt = ".json"

// tool is what distinguishes one scanner from another: argument shapes per
// scan target and any extra readiness prerequisite beyond the binary itself.
type tool struct {
	name       string
	binary     string
	sourceArgs func(dir string) []string
	planArgs   func(planJSON string) []string
	preflight  func() error
}

// Handler runs one scanner around the plan action: the definition's rendered
// source tree before planning, the plan's JSON rendering after a changed
// plan.
type Handler struct {
	handlers.Base
	tool   tool
	run    RunFunc
	logger ports.Logger
}

func newHandler(ctx context.Context, t tool, required bool, run RunFunc, lookPath LookPathFunc, logger ports.Logger) (*Handler, error) {
	h := &Handler{
		Base:   handlers.NewBase(t.name, domain.ActionPlan),
		tool:   t,
		run:    run,
		logger: logger.WithFields(map[string]any{"handler": t.name}),
	}
	h.SetRequired(required)
	h.SetPriority(domain.ActionPlan, 20)
	// Findings must act on the authoritative plan file, so scans run only
	// after plan storage has settled it.
	h.SetDependencies(domain.ActionPlan, domain.StagePre, "s3")
	h.SetDependencies(domain.ActionPlan, domain.StagePost, "s3")

	if h.run == nil {
		h.run = runBinary
	}
	if lookPath == nil {
		lookPath = lookPathDefault
	}

	if _, err := lookPath(t.binary); err != nil {
		err = fmt.Errorf("scanner binary %q not found: %w", t.binary, err)
		if rerr := handlers.ResolveReadiness(ctx, logger, t.name, required, err); rerr != nil {
			return nil, rerr
		}
		return h, nil
	}
	if t.preflight != nil {
		if err := t.preflight(); err != nil {
			if rerr := handlers.ResolveReadiness(ctx, logger, t.name, required, err); rerr != nil {
				return nil, rerr
			}
			return h, nil
		}
	}
	h.SetReady(true)
	return h, nil
}

func (h *Handler) Execute(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if req.Action != domain.ActionPlan {
		return nil, nil
	}
	switch req.Stage {
	case domain.StagePre:
		return h.scan(ctx, req, req.WorkingDir, h.tool.sourceArgs(req.WorkingDir))
	case domain.StagePost:
		if req.Result == nil || !req.Result.HasChanges() {
			return nil, nil
		}
		planJSON := req.Definition.PlanFile + PlanJSONExt
		if _, err := os.Stat(planJSON); err != nil {
			h.logger.Debugf(ctx, "no plan JSON at %s, skipping post-plan scan", planJSON)
			return nil, nil
		}
		return h.scan(ctx, req, planJSON, h.tool.planArgs(planJSON))
	}
	return nil, nil
}

// scan runs the tool against one target. A non-zero exit is a finding: when
// the handler is required, the definition's plan file is removed so the next
// run replans from scratch and the run terminates; otherwise the finding is
// logged and the batch continues.
func (h *Handler) scan(ctx context.Context, req ports.HandlerRequest, target string, args []string) (*domain.HandlerResult, error) {
	h.logger.Debugf(ctx, "scanning %s: %s %s", target, h.tool.binary, strings.Join(args, " "))

	exitCode, output, err := h.run(ctx, req.WorkingDir, h.tool.binary, args, nil)
	if err != nil {
		return nil, h.WrapErr(fmt.Errorf("failed to run %s: %w", h.tool.binary, err))
	}
	if exitCode == 0 {
		return h.NewResult(req.Action, req.Stage, map[string]any{
			"definition": req.Definition.Name,
			"target":     target,
			"findings":   false,
		}), nil
	}

	if h.Required() {
		h.discardPlan(ctx, req.Definition.PlanFile)
		return nil, h.Errorf("%s found issues in %s (exit %d):\n%s",
			h.tool.name, target, exitCode, strings.TrimSpace(string(output)))
	}
	h.logger.Warnf(ctx, "%s found issues in %s (exit %d):\n%s",
		h.tool.name, target, exitCode, strings.TrimSpace(string(output)))
	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition": req.Definition.Name,
		"target":     target,
		"findings":   true,
		"exit_code":  exitCode,
	}), nil
}

// discardPlan removes the offending plan and its JSON rendering. A plan that
// failed a required scan must never be reused by a later run.
func (h *Handler) discardPlan(ctx context.Context, planFile string) {
	if planFile == "" {
		return
	}
	for _, path := range []string{planFile, planFile + PlanJSONExt} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Warnf(ctx, "failed to remove rejected plan artifact %s: %v", path, err)
		}
	}
}
