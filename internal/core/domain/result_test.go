package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerraformResult_ExitCodeSemantics(t *testing.T) {
	t.Run("exit 2 means changes", func(t *testing.T) {
		r := NewTerraformResult(TerraformExitChanges, []byte("plan out"), nil)
		assert.True(t, r.HasChanges())
		assert.False(t, r.Failed())
	})

	t.Run("exit 0 means clean", func(t *testing.T) {
		r := NewTerraformResult(TerraformExitClean, nil, nil)
		assert.False(t, r.HasChanges())
		assert.False(t, r.Failed())
	})

	t.Run("exit 1 means error, not changes", func(t *testing.T) {
		r := NewTerraformResult(TerraformExitError, nil, []byte("boom"))
		assert.False(t, r.HasChanges())
		assert.True(t, r.Failed())
		assert.Equal(t, "boom", r.StderrString())
	})
}

func TestHandlerError_Severity(t *testing.T) {
	fatal := NewHandlerError("sqs", true, assert.AnError)
	assert.Contains(t, fatal.Error(), "fatal")
	assert.ErrorIs(t, fatal, assert.AnError)

	recoverable := NewHandlerError("trivy", false, assert.AnError)
	assert.Contains(t, recoverable.Error(), "recoverable")
}

func TestHandlerResult_Field(t *testing.T) {
	r := HandlerResult{Handler: "s3", Action: ActionPlan, Stage: StagePost,
		Fields: map[string]any{"uploaded": true}}

	v, ok := r.Field("uploaded")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = r.Field("missing")
	assert.False(t, ok)

	empty := HandlerResult{Handler: "s3"}
	_, ok = empty.Field("uploaded")
	assert.False(t, ok)
}
