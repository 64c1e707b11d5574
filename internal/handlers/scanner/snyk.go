package scanner

import (
	"context"
	"fmt"
	"os"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
)

// SnykName is the snyk handler's registration name.
const SnykName = "snyk"

const (
	defaultSnykBinary = "snyk"
	snykTokenEnv      = "SNYK_TOKEN"
)

type SnykOptions struct {
	handlers.CommonOptions `mapstructure:",squash"`

	// Path overrides the binary resolved on PATH.
	Path string `mapstructure:"path"`
	// SeverityThreshold maps to --severity-threshold (low|medium|high|critical).
	SeverityThreshold string `mapstructure:"severity_threshold" validate:"omitempty,oneof=low medium high critical"`
}

// NewSnyk builds the snyk IaC scanner. Snyk needs a license: readiness
// requires SNYK_TOKEN in the environment on top of the binary itself.
func NewSnyk(ctx context.Context, options map[string]any, run RunFunc, lookPath LookPathFunc, logger ports.Logger) (*Handler, error) {
	var opts SnykOptions
	if err := handlers.DecodeOptions(SnykName, options, &opts); err != nil {
		return nil, err
	}
	binary := opts.Path
	if binary == "" {
		binary = defaultSnykBinary
	}

	var common []string
	if opts.SeverityThreshold != "" {
		common = append(common, "--severity-threshold="+opts.SeverityThreshold)
	}

	t := tool{
		name:   SnykName,
		binary: binary,
		sourceArgs: func(dir string) []string {
			return append([]string{"iac", "test", dir}, common...)
		},
		planArgs: func(planJSON string) []string {
			return append([]string{"iac", "test", planJSON, "--scan=planned-values"}, common...)
		},
		preflight: func() error {
			if os.Getenv(snykTokenEnv) == "" {
				return fmt.Errorf("%s is not set", snykTokenEnv)
			}
			return nil
		},
	}
	return newHandler(ctx, t, opts.Required, run, lookPath, logger)
}
