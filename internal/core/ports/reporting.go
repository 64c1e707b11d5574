package ports

import (
	"context"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
)

type Reporter interface {
	Report(ctx context.Context, records []domain.ExecutionRecord) error
}
