package run

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

func testLogger() ports.Logger {
	return log.NewWriterLogger(log.Config{}, io.Discard)
}

func TestPlanController_ResolvePlanFile(t *testing.T) {
	t.Run("configured plan path", func(t *testing.T) {
		root := t.TempDir()
		c := NewPlanController(root, false, testLogger())
		def := &domain.Definition{Name: "network"}

		require.NoError(t, c.ResolvePlanFile("prod", def, "/ignored"))
		assert.Equal(t, filepath.Join(root, "prod", "network.tfplan"), def.PlanFile)
		assert.DirExists(t, filepath.Dir(def.PlanFile))
	})

	t.Run("working dir fallback", func(t *testing.T) {
		work := t.TempDir()
		c := NewPlanController("", true, testLogger())
		def := &domain.Definition{Name: "network"}

		require.NoError(t, c.ResolvePlanFile("prod", def, work))
		assert.Equal(t, filepath.Join(work, "plans", "network.tfplan"), def.PlanFile)
	})
}

func TestPlanController_PlanNeeded(t *testing.T) {
	ctx := context.Background()

	t.Run("no persistence always plans", func(t *testing.T) {
		c := NewPlanController("", false, testLogger())
		def := &domain.Definition{Name: "net", PlanFile: filepath.Join(t.TempDir(), "net.tfplan")}
		require.NoError(t, os.WriteFile(def.PlanFile, []byte("plan"), 0o600))

		needed, err := c.PlanNeeded(ctx, def)
		require.NoError(t, err)
		assert.True(t, needed, "reuse only applies when persistence is configured")
	})

	t.Run("missing plan file needs plan", func(t *testing.T) {
		c := NewPlanController(t.TempDir(), false, testLogger())
		def := &domain.Definition{Name: "net", PlanFile: filepath.Join(t.TempDir(), "net.tfplan")}

		needed, err := c.PlanNeeded(ctx, def)
		require.NoError(t, err)
		assert.True(t, needed)
	})

	t.Run("non-empty plan is reusable, idempotently", func(t *testing.T) {
		c := NewPlanController(t.TempDir(), false, testLogger())
		def := &domain.Definition{Name: "net", PlanFile: filepath.Join(t.TempDir(), "net.tfplan")}
		require.NoError(t, os.WriteFile(def.PlanFile, []byte("plan-bytes"), 0o600))

		for i := 0; i < 2; i++ {
			needed, err := c.PlanNeeded(ctx, def)
			require.NoError(t, err)
			assert.False(t, needed)
		}
		assert.FileExists(t, def.PlanFile, "the check must not consume the plan")
	})

	t.Run("zero-byte plan is deleted and needs plan exactly once", func(t *testing.T) {
		c := NewPlanController(t.TempDir(), false, testLogger())
		def := &domain.Definition{Name: "net", PlanFile: filepath.Join(t.TempDir(), "net.tfplan")}
		require.NoError(t, os.WriteFile(def.PlanFile, nil, 0o600))

		needed, err := c.PlanNeeded(ctx, def)
		require.NoError(t, err)
		assert.True(t, needed)
		assert.NoFileExists(t, def.PlanFile)

		// Second call sees a missing file, still needs a plan.
		needed, err = c.PlanNeeded(ctx, def)
		require.NoError(t, err)
		assert.True(t, needed)
	})
}

func TestPlanController_ShouldProceed(t *testing.T) {
	c := NewPlanController("", false, testLogger())
	changed := domain.NewTerraformResult(domain.TerraformExitChanges, nil, nil)
	clean := domain.NewTerraformResult(domain.TerraformExitClean, nil, nil)

	assert.True(t, c.ShouldProceed(true, changed, false), "fresh plan with changes")
	assert.False(t, c.ShouldProceed(true, clean, false), "fresh plan without changes")
	assert.True(t, c.ShouldProceed(false, nil, false), "reused plan file")
	assert.True(t, c.ShouldProceed(true, clean, true), "force overrides change detection")
	assert.False(t, c.ShouldProceed(true, nil, false), "no result, no force")
}
