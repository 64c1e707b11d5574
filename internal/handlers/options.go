package handlers

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CommonOptions are accepted by every handler block. Required decides whether
// this handler's failures terminate the run or are logged and skipped.
type CommonOptions struct {
	Required bool `mapstructure:"required"`
}

// DecodeOptions strictly decodes a handler's raw option map into its typed
// schema: unknown fields are rejected, then the schema's validate tags run.
func DecodeOptions(name string, options map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal,
			fmt.Sprintf("failed to build option decoder for handler %q", name))
	}
	if err := decoder.Decode(options); err != nil {
		return errors.WrapUserFacing(err, errors.CodeConfigValidation,
			fmt.Sprintf("invalid options for handler %q", name),
			"Check the handler block in your configuration; unknown fields are rejected.")
	}
	if err := validate.Struct(target); err != nil {
		return errors.WrapUserFacing(err, errors.CodeConfigValidation,
			fmt.Sprintf("invalid options for handler %q", name),
			"Check the handler block in your configuration.")
	}
	return nil
}

// ResolveReadiness applies the required-flag policy to a failed readiness
// prerequisite: a required handler fails construction outright, an optional
// one logs the reason and stays registered as not ready.
func ResolveReadiness(ctx context.Context, logger ports.Logger, name string, required bool, err error) error {
	if required {
		return errors.Wrap(err, errors.CodeHandlerNotReady,
			fmt.Sprintf("required handler %q failed its readiness check", name))
	}
	logger.Warnf(ctx, "handler %q is not ready and will be skipped: %v", name, err)
	return nil
}
