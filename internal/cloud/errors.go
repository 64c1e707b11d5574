package cloud

import (
	"context"
	stderrs "errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/tfconvoy/tfconvoy/internal/errors"
)

// Classify maps an AWS SDK error onto the application error taxonomy.
// service and resource flow into the message (e.g. "S3 bucket", "my-bucket").
func Classify(ctx context.Context, err error, service, resource string) error {
	if err == nil {
		return errors.New(errors.CodeInternal, fmt.Sprintf("unexpected nil error in AWS error classifier for %s", service))
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.CodeCloudAPIError,
			fmt.Sprintf("context canceled during AWS %s call", service))
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeCloudAPIError,
			fmt.Sprintf("context canceled during AWS %s call", service))
	}

	msg := err.Error()
	if strings.Contains(msg, "AuthFailure") ||
		strings.Contains(msg, "UnauthorizedOperation") ||
		strings.Contains(msg, "AccessDenied") {
		return errors.Wrap(err, errors.CodeCloudAuthError,
			fmt.Sprintf("AWS authorization error accessing %s %q", service, resource))
	}
	if IsNotFound(err) {
		return errors.Wrap(err, errors.CodeObjectNotFound,
			fmt.Sprintf("%s %q not found", service, resource))
	}
	return errors.Wrap(err, errors.CodeCloudAPIError,
		fmt.Sprintf("AWS %s call failed for %q", service, resource))
}

// IsNotFound reports whether err is an AWS not-found condition: a missing
// bucket, object, table or queue.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch apiErrorCode(err) {
	case "NotFound", "NoSuchBucket", "NoSuchKey",
		"ResourceNotFoundException",
		"AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "not exist")
}

// IsBucketAlreadyOwned reports the benign create-bucket race outcome: the
// bucket exists and this account owns it.
func IsBucketAlreadyOwned(err error) bool {
	return apiErrorCode(err) == "BucketAlreadyOwnedByYou"
}

// IsTableInUse reports the benign create-table race outcome: the table
// already exists or is still being created.
func IsTableInUse(err error) bool {
	return apiErrorCode(err) == "ResourceInUseException"
}

// IsFatalCreateError reports creation failures no retry can fix: a bucket
// owned by another account or a location constraint mismatch.
func IsFatalCreateError(err error) bool {
	switch apiErrorCode(err) {
	case "BucketAlreadyExists",
		"IllegalLocationConstraintException",
		"InvalidLocationConstraint":
		return true
	}
	return false
}

func apiErrorCode(err error) string {
	// Direct assertion first so plain test doubles work without wrapping.
	if coded, ok := err.(interface{ ErrorCode() string }); ok && coded != nil {
		return coded.ErrorCode()
	}
	var apiErr smithy.APIError
	if stderrs.As(err, &apiErr) && apiErr != nil {
		return apiErr.ErrorCode()
	}
	return ""
}
