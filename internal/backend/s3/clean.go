package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	"github.com/tfconvoy/tfconvoy/internal/cloud"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// Clean removes a deployment's remote state. With a limit only the named
// definitions' objects and lock rows are touched and the lock table is kept;
// without one the whole prefix is swept and the lock table dropped.
//
// A state object is deleted only after downloading it and confirming it
// tracks zero resources. The first non-empty state aborts the clean with a
// BackendError; objects already validated and removed stay removed.
func (b *Backend) Clean(ctx context.Context, deployment string, limit []string) error {
	prefix := ExpandPrefix(b.opts.Prefix, deployment)
	table := LockTableName(deployment)

	if len(limit) > 0 {
		for _, name := range limit {
			if err := b.cleanDefinition(ctx, prefix, name); err != nil {
				return err
			}
			// Lock rows go only after the definition's state is gone.
			if err := b.removeLockEntry(ctx, table, prefix, name); err != nil {
				return err
			}
		}
		return nil
	}

	if err := b.sweepPrefix(ctx, prefix); err != nil {
		return err
	}
	return b.dropLockTable(ctx, table)
}

func (b *Backend) cleanDefinition(ctx context.Context, prefix, name string) error {
	folder := path.Join(prefix, name) + "/"
	keys, err := b.listKeys(ctx, folder)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		b.logger.Debugf(ctx, "no objects under %s, nothing to clean", folder)
		return nil
	}
	return b.deleteValidated(ctx, keys)
}

func (b *Backend) sweepPrefix(ctx context.Context, prefix string) error {
	keyPrefix := prefix + "/"
	if prefix == "" {
		keyPrefix = ""
	}
	keys, err := b.listKeys(ctx, keyPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		b.logger.Infof(ctx, "no objects under %s, nothing to clean", keyPrefix)
		return nil
	}

	groups := make(map[string][]string)
	var order []string
	for _, key := range keys {
		rel := strings.TrimPrefix(key, keyPrefix)
		name, _, _ := strings.Cut(rel, "/")
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], key)
	}
	for _, name := range order {
		if err := b.deleteValidated(ctx, groups[name]); err != nil {
			return err
		}
	}
	return nil
}

// deleteValidated removes one definition folder's objects. Every state object
// in the group must parse as empty state before anything in the group is
// removed; plan and log artifacts follow their state.
func (b *Backend) deleteValidated(ctx context.Context, keys []string) error {
	var stateKeys, auxKeys []string
	for _, key := range keys {
		if backend.IsStateObject(key) {
			stateKeys = append(stateKeys, key)
		} else {
			auxKeys = append(auxKeys, key)
		}
	}
	for _, key := range stateKeys {
		if err := b.verifyEmptyState(ctx, key); err != nil {
			return err
		}
	}
	for _, key := range append(stateKeys, auxKeys...) {
		if err := b.deleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) verifyEmptyState(ctx context.Context, key string) error {
	raw, err := b.getObject(ctx, key)
	if err != nil {
		return err
	}
	state, err := backend.ParseState(raw)
	if err != nil {
		return &backend.BackendError{
			Backend: backendType,
			Op:      "clean",
			Key:     key,
			Message: "state could not be parsed before deletion",
			Err:     err,
		}
	}
	if !state.Empty() {
		return backend.NewNotEmptyError(backendType, key, len(state.Resources))
	}
	return nil
}

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, cloud.Classify(ctx, err, "S3 object", key)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStateReadError,
			fmt.Sprintf("failed to read S3 object %q", key))
	}
	return raw, nil
}

func (b *Backend) deleteObject(ctx context.Context, key string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return cloud.Classify(ctx, err, "S3 object", key)
	}
	b.logger.Infof(ctx, "deleted s3://%s/%s", b.opts.Bucket, key)
	return nil
}

// removeLockEntry deletes terraform's lock digest row for one definition,
// using terraform's own {bucket}/{key}-md5 row ID convention.
func (b *Backend) removeLockEntry(ctx context.Context, table, prefix, name string) error {
	lockID := fmt.Sprintf("%s/%s-md5", b.opts.Bucket, path.Join(prefix, name, backend.StateFilename))
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key: map[string]dbtypes.AttributeValue{
			lockTableKey: &dbtypes.AttributeValueMemberS{Value: lockID},
		},
	})
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil
		}
		return cloud.Classify(ctx, err, "DynamoDB table", table)
	}
	b.logger.Debugf(ctx, "removed lock entry %s from %s", lockID, table)
	return nil
}

func (b *Backend) dropLockTable(ctx context.Context, table string) error {
	_, err := b.dbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)})
	if err != nil {
		if cloud.IsNotFound(err) {
			b.logger.Debugf(ctx, "lock table %s already absent", table)
			return nil
		}
		return cloud.Classify(ctx, err, "DynamoDB table", table)
	}
	b.logger.Infof(ctx, "dropped lock table %s", table)
	return nil
}
