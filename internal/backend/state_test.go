package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	t.Run("empty state", func(t *testing.T) {
		st, err := ParseState([]byte(`{"version":4,"serial":7,"lineage":"abc","resources":[]}`))
		require.NoError(t, err)
		assert.True(t, st.Empty())
		assert.Equal(t, uint64(7), st.Serial)
		assert.Equal(t, "abc", st.Lineage)
	})

	t.Run("occupied state", func(t *testing.T) {
		st, err := ParseState([]byte(`{"version":4,"resources":[{"mode":"managed","type":"aws_vpc","name":"main"}]}`))
		require.NoError(t, err)
		assert.False(t, st.Empty())
		assert.Len(t, st.Resources, 1)
	})

	t.Run("empty document is an error, never empty state", func(t *testing.T) {
		_, err := ParseState(nil)
		require.Error(t, err)
	})

	t.Run("malformed document is an error", func(t *testing.T) {
		_, err := ParseState([]byte(`{"resources": [`))
		require.Error(t, err)
	})
}

func TestState_SameLineage(t *testing.T) {
	base := &State{Serial: 7, Lineage: "abc"}

	assert.True(t, base.SameLineage(&State{Serial: 7, Lineage: "abc"}))
	assert.False(t, base.SameLineage(&State{Serial: 8, Lineage: "abc"}), "serial mismatch")
	assert.False(t, base.SameLineage(&State{Serial: 7, Lineage: "xyz"}), "lineage mismatch")
	assert.False(t, base.SameLineage(nil))
	assert.False(t, (*State)(nil).SameLineage(base))
}

func TestIsStateObject(t *testing.T) {
	assert.True(t, IsStateObject("prefix/def1/terraform.tfstate"))
	assert.True(t, IsStateObject("prefix/def1/default.tfstate"))
	assert.False(t, IsStateObject("prefix/def1/terraform.tfplan"))
	assert.False(t, IsStateObject("prefix/def1/terraform.tfplan.log"))
}

func TestBackendError(t *testing.T) {
	err := NewNotEmptyError("s3", "prefix/def3/terraform.tfstate", 2)
	assert.Contains(t, err.Error(), "not empty")
	assert.Contains(t, err.Error(), "prefix/def3/terraform.tfstate")
	assert.Contains(t, err.Error(), "2 resources")
}
