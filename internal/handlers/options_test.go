package handlers

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

type scanOptions struct {
	CommonOptions `mapstructure:",squash"`

	Severity string `mapstructure:"severity" validate:"omitempty,oneof=low high"`
}

func TestDecodeOptions(t *testing.T) {
	t.Run("decodes known fields", func(t *testing.T) {
		var opts scanOptions
		err := DecodeOptions("scan", map[string]any{
			"required": true,
			"severity": "high",
		}, &opts)
		require.NoError(t, err)
		assert.True(t, opts.Required)
		assert.Equal(t, "high", opts.Severity)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		var opts scanOptions
		err := DecodeOptions("scan", map[string]any{"severty": "high"}, &opts)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigValidation, apperrors.GetCode(err))
	})

	t.Run("runs validate tags", func(t *testing.T) {
		var opts scanOptions
		err := DecodeOptions("scan", map[string]any{"severity": "blocker"}, &opts)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigValidation, apperrors.GetCode(err))
	})

	t.Run("empty options decode to defaults", func(t *testing.T) {
		var opts scanOptions
		require.NoError(t, DecodeOptions("scan", map[string]any{}, &opts))
		assert.False(t, opts.Required)
	})
}

func TestResolveReadiness(t *testing.T) {
	logger := log.NewWriterLogger(log.Config{Level: log.LevelError, Format: log.FormatText}, io.Discard)
	cause := errors.New("binary not found")

	t.Run("required handler fails construction", func(t *testing.T) {
		err := ResolveReadiness(context.Background(), logger, "trivy", true, cause)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeHandlerNotReady, apperrors.GetCode(err))
	})

	t.Run("optional handler is logged and skipped", func(t *testing.T) {
		assert.NoError(t, ResolveReadiness(context.Background(), logger, "trivy", false, cause))
	})
}

func TestBaseScheduling(t *testing.T) {
	b := NewBase("scan", domain.ActionPlan)
	b.SetPriority(domain.ActionPlan, 20)
	b.SetDependencies(domain.ActionPlan, domain.StagePost, "s3")

	assert.Equal(t, "scan", b.Name())
	assert.Equal(t, []domain.Action{domain.ActionPlan}, b.Actions())
	assert.Equal(t, 20, b.DefaultPriority(domain.ActionPlan))
	assert.Equal(t, 0, b.DefaultPriority(domain.ActionApply), "unset actions weigh zero")
	assert.Equal(t, []string{"s3"}, b.Dependencies(domain.ActionPlan, domain.StagePost))
	assert.Nil(t, b.Dependencies(domain.ActionPlan, domain.StagePre))
	assert.False(t, b.IsReady(context.Background()))
	b.SetReady(true)
	assert.True(t, b.IsReady(context.Background()))
}

func TestBaseErrorSeverityFollowsRequired(t *testing.T) {
	b := NewBase("scan", domain.ActionPlan)

	err := b.Errorf("boom")
	assert.False(t, err.Terminate)

	b.SetRequired(true)
	err = b.WrapErr(errors.New("boom"))
	assert.True(t, err.Terminate)
	assert.Equal(t, "scan", err.Handler)
}
