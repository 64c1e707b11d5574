package ports

import (
	"context"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
)

// HandlerRequest carries the invocation context shared by every handler at
// one (action, stage) boundary. Results exposes the records collected earlier
// in the same run so handlers can attach each other's output.
type HandlerRequest struct {
	Action     domain.Action
	Stage      domain.Stage
	Deployment string
	RunID      string
	Definition *domain.Definition
	WorkingDir string
	Result     *domain.TerraformResult
	Results    ResultsReader
}

// Handler is a plugin invoked around Terraform actions. The orchestrator only
// calls Execute for actions the handler declares and while IsReady holds;
// implementations may still no-op internally for stages they ignore.
type Handler interface {
	Name() string
	Actions() []domain.Action
	IsReady(ctx context.Context) bool
	DefaultPriority(action domain.Action) int
	Dependencies(action domain.Action, stage domain.Stage) []string
	Execute(ctx context.Context, req HandlerRequest) (*domain.HandlerResult, error)
}

// ResultsReader is the query surface over handler results captured so far in
// the current run.
type ResultsReader interface {
	All() []domain.HandlerResult
	ByHandler(name string) []domain.HandlerResult
	ByField(field string, value any) []domain.HandlerResult
}
