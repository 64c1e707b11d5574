package scanner

import (
	"context"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
)

// TrivyName is the trivy handler's registration name.
const TrivyName = "trivy"

const defaultTrivyBinary = "trivy"

type TrivyOptions struct {
	handlers.CommonOptions `mapstructure:",squash"`

	// Path overrides the binary resolved on PATH.
	Path string `mapstructure:"path"`
	// Severity narrows misconfiguration findings, e.g. "HIGH,CRITICAL".
	Severity string `mapstructure:"severity"`
	// SkipDirs are passed through to trivy's --skip-dirs.
	SkipDirs []string `mapstructure:"skip_dirs"`
}

// NewTrivy builds the trivy misconfiguration scanner. run and lookPath are
// injectable for tests; nil selects the real implementations.
func NewTrivy(ctx context.Context, options map[string]any, run RunFunc, lookPath LookPathFunc, logger ports.Logger) (*Handler, error) {
	var opts TrivyOptions
	if err := handlers.DecodeOptions(TrivyName, options, &opts); err != nil {
		return nil, err
	}
	binary := opts.Path
	if binary == "" {
		binary = defaultTrivyBinary
	}

	common := []string{"--exit-code", "1", "--no-progress"}
	if opts.Severity != "" {
		common = append(common, "--severity", opts.Severity)
	}
	for _, dir := range opts.SkipDirs {
		common = append(common, "--skip-dirs", dir)
	}

	t := tool{
		name:   TrivyName,
		binary: binary,
		sourceArgs: func(dir string) []string {
			return append(append([]string{"config"}, common...), dir)
		},
		planArgs: func(planJSON string) []string {
			return append(append([]string{"config"}, common...), planJSON)
		},
	}
	return newHandler(ctx, t, opts.Required, run, lookPath, logger)
}
