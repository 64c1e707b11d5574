package cloud

import (
	"context"
	stderrs "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/errors"
)

type apiError string

func (e apiError) Error() string     { return string(e) }
func (e apiError) ErrorCode() string { return string(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(apiError("NoSuchBucket")))
	assert.True(t, IsNotFound(apiError("NoSuchKey")))
	assert.True(t, IsNotFound(apiError("ResourceNotFoundException")))
	assert.True(t, IsNotFound(apiError("AWS.SimpleQueueService.NonExistentQueue")))
	assert.True(t, IsNotFound(stderrs.New("requested resource not found")))
	assert.False(t, IsNotFound(apiError("AccessDenied")))
	assert.False(t, IsNotFound(nil))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("authorization errors", func(t *testing.T) {
		err := Classify(ctx, apiError("AccessDenied"), "S3 bucket", "state-bucket")
		assert.Equal(t, errors.CodeCloudAuthError, errors.GetCode(err))
		assert.Contains(t, err.Error(), "state-bucket")
	})

	t.Run("not found", func(t *testing.T) {
		err := Classify(ctx, apiError("NoSuchKey"), "S3 object", "env/terraform.tfstate")
		assert.Equal(t, errors.CodeObjectNotFound, errors.GetCode(err))
	})

	t.Run("generic API failure", func(t *testing.T) {
		err := Classify(ctx, apiError("InternalError"), "DynamoDB table", "locks")
		assert.Equal(t, errors.CodeCloudAPIError, errors.GetCode(err))
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		err := Classify(canceled, apiError("InternalError"), "S3 bucket", "b")
		require.Error(t, err)
		assert.Equal(t, errors.CodeCloudAPIError, errors.GetCode(err))
		assert.Contains(t, err.Error(), "canceled")
	})
}

func TestCreateRaceClassifiers(t *testing.T) {
	assert.True(t, IsBucketAlreadyOwned(apiError("BucketAlreadyOwnedByYou")))
	assert.True(t, IsTableInUse(apiError("ResourceInUseException")))
	assert.True(t, IsFatalCreateError(apiError("BucketAlreadyExists")))
	assert.True(t, IsFatalCreateError(apiError("IllegalLocationConstraintException")))
	assert.False(t, IsFatalCreateError(apiError("SlowDown")))
}
