package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zclconf/go-cty/cty"
)

func TestEncodeBackendBlock(t *testing.T) {
	got := EncodeBackendBlock("s3", []Attribute{
		{Name: "bucket", Value: cty.StringVal("state-bucket")},
		{Name: "key", Value: cty.StringVal("prefix/net/terraform.tfstate")},
		{Name: "encrypt", Value: cty.BoolVal(true)},
	})

	assert.Contains(t, got, "terraform {")
	assert.Contains(t, got, `backend "s3"`)
	assert.Contains(t, got, `"state-bucket"`)
	assert.Contains(t, got, `"prefix/net/terraform.tfstate"`)
	assert.Contains(t, got, "encrypt = true")
}

func TestEncodeRemoteStateBlocks(t *testing.T) {
	config := func(remote string) []Attribute {
		return []Attribute{
			{Name: "bucket", Value: cty.StringVal("state-bucket")},
			{Name: "key", Value: cty.StringVal("prefix/" + remote + "/terraform.tfstate")},
		}
	}

	t.Run("one block per distinct remote", func(t *testing.T) {
		got := EncodeRemoteStateBlocks("s3", []string{"net", "db", "net"}, config)
		assert.Contains(t, got, `data "terraform_remote_state" "net"`)
		assert.Contains(t, got, `data "terraform_remote_state" "db"`)
		assert.Equal(t, 1, countOccurrences(got, `"net"`), "duplicate remote must collapse")
	})

	t.Run("no remotes renders nothing", func(t *testing.T) {
		assert.Empty(t, EncodeRemoteStateBlocks("s3", nil, config))
	})
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
