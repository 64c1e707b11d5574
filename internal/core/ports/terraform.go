package ports

import (
	"context"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
)

// TerraformRequest describes one terraform subprocess invocation. PlanFile is
// the -out target for plan and the saved-plan argument for apply. Destroy
// turns a plan into a destroy plan.
type TerraformRequest struct {
	Action     domain.Action
	WorkingDir string
	PlanFile   string
	Destroy    bool
	Env        map[string]string
}

//go:generate mockery --name TerraformRunner --output ./mocks --outpkg mocks --case underscore
type TerraformRunner interface {
	CheckVersion(ctx context.Context) error
	Exec(ctx context.Context, req TerraformRequest) (*domain.TerraformResult, error)
	ShowPlanJSON(ctx context.Context, workingDir, planFile string) ([]byte, error)
}
