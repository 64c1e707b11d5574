package app

import (
	"context"

	"github.com/tfconvoy/tfconvoy/internal/config"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/run"
)

// Application bundles everything one command invocation needs. Built by
// bootstrap, used by cmd, thrown away at process exit.
type Application struct {
	Config   *config.Config
	Logger   ports.Logger
	Backend  ports.Backend
	Engine   *run.Engine
	Reporter ports.Reporter
}

// Run drives the deployment and reports the outcome. The records of
// definitions reached before a fatal error are still reported.
func (a *Application) Run(ctx context.Context, opts run.Options) error {
	a.Logger.Infof(ctx, "starting run")

	records, runErr := a.Engine.Run(ctx, opts)
	if err := a.Reporter.Report(ctx, records); err != nil {
		a.Logger.Errorf(ctx, err, "failed to report run summary")
	}
	if runErr != nil {
		a.Logger.Errorf(ctx, runErr, "run failed")
		return runErr
	}

	a.Logger.Infof(ctx, "run completed: %d definition(s)", len(records))
	return nil
}

// Clean removes the deployment's remote state under the backend's safety
// rules.
func (a *Application) Clean(ctx context.Context, deployment string, limit []string) error {
	a.Logger.Infof(ctx, "cleaning deployment %s", deployment)
	if err := a.Backend.Clean(ctx, deployment, limit); err != nil {
		a.Logger.Errorf(ctx, err, "clean failed")
		return err
	}
	a.Logger.Infof(ctx, "clean completed")
	return nil
}
