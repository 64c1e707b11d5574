// Package gcs implements the Cloud Storage state backend. Terraform's gcs
// backend locks natively through object generation preconditions, so there is
// no lock table counterpart here.
package gcs

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sethvargo/go-retry"
	"github.com/zclconf/go-cty/cty"
	"google.golang.org/api/iterator"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	"github.com/tfconvoy/tfconvoy/internal/cloud"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

const (
	backendType           = "gcs"
	deploymentToken       = "{deployment}"
	defaultPrefixTemplate = "terraform/state/" + deploymentToken

	createMaxRetries = 4
	createRetryBase  = 500 * time.Millisecond
)

// Options is the backend configuration, already schema-validated by the
// loader. Project and Region only matter when the bucket may be created.
type Options struct {
	Bucket              string
	Prefix              string
	Project             string
	Region              string
	CredentialsFile     string
	CreateBackendBucket bool
}

type Option func(*Backend)

// withBucketHandle injects a bucketHandle, used in tests to avoid real GCS
// calls.
func withBucketHandle(bh bucketHandle) Option {
	return func(b *Backend) {
		if bh != nil {
			b.testBucket = bh
		}
	}
}

// Backend is the Cloud Storage remote state provider for one deployment.
// New performs no I/O; EnsureReady does the bucket/remotes work once.
type Backend struct {
	opts       Options
	deployment string
	prefix     string
	client     *storage.Client
	testBucket bucketHandle
	limiter    *cloud.Limiter
	logger     ports.Logger
	remotes    []string
	ready      bool
}

func New(client *storage.Client, deployment string, opts Options, limiter *cloud.Limiter, logger ports.Logger, optFns ...Option) *Backend {
	b := &Backend{
		opts:       opts,
		deployment: deployment,
		prefix:     ExpandPrefix(opts.Prefix, deployment),
		client:     client,
		limiter:    limiter,
		logger:     logger.WithFields(map[string]any{"component": "gcs_backend", "deployment": deployment}),
	}
	for _, fn := range optFns {
		fn(b)
	}
	if b.limiter == nil {
		b.limiter = cloud.NewLimiter(0, logger)
	}
	return b
}

// ExpandPrefix resolves the configured object prefix for a deployment, with
// the same defaulting and {deployment} token rules as the S3 backend.
func ExpandPrefix(prefix, deployment string) string {
	if prefix == "" {
		prefix = defaultPrefixTemplate
	}
	prefix = strings.ReplaceAll(prefix, deploymentToken, deployment)
	return strings.Trim(prefix, "/")
}

func (b *Backend) getBucket() bucketHandle {
	if b.testBucket != nil {
		return b.testBucket
	}
	return &realBucketHandle{b.client.Bucket(b.opts.Bucket)}
}

func (b *Backend) Type() string {
	return backendType
}

func (b *Backend) Bucket() string {
	return b.opts.Bucket
}

func (b *Backend) KeyPrefix() string {
	return b.prefix
}

func (b *Backend) Remotes() []string {
	out := make([]string, len(b.remotes))
	copy(out, b.remotes)
	return out
}

func (b *Backend) HookEnv() map[string]string {
	return map[string]string{
		"TFCONVOY_BACKEND_BUCKET": b.opts.Bucket,
		"TFCONVOY_BACKEND_PREFIX": b.prefix,
		"TFCONVOY_BACKEND_REGION": b.opts.Region,
	}
}

// EnsureReady probes the bucket (creating it only when CreateBackendBucket
// allows) and enumerates remote state. Idempotent.
func (b *Backend) EnsureReady(ctx context.Context) error {
	if b.ready {
		return nil
	}
	if err := b.ensureBucket(ctx); err != nil {
		return err
	}
	remotes, err := b.listRemotes(ctx)
	if err != nil {
		return err
	}
	b.remotes = remotes
	b.ready = true
	b.logger.Debugf(ctx, "backend ready: bucket=%s prefix=%s remotes=%d",
		b.opts.Bucket, b.prefix, len(b.remotes))
	return nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.getBucket().Attrs(ctx)
	if err == nil {
		return nil
	}
	if !stderrs.Is(err, storage.ErrBucketNotExist) {
		return apperrors.Wrap(err, apperrors.CodeCloudAPIError,
			fmt.Sprintf("failed to probe GCS bucket %q", b.opts.Bucket))
	}
	if !b.opts.CreateBackendBucket {
		return apperrors.NewUserFacing(apperrors.CodeBackendError,
			fmt.Sprintf("state bucket %q does not exist", b.opts.Bucket),
			"Create the bucket or set backend.create_backend_bucket to true.")
	}
	return b.createBucket(ctx)
}

func (b *Backend) createBucket(ctx context.Context) error {
	if b.opts.Project == "" {
		return apperrors.NewUserFacing(apperrors.CodeConfigValidation,
			"backend.project is required to create a GCS bucket", "")
	}
	attrs := &storage.BucketAttrs{}
	if b.opts.Region != "" {
		attrs.Location = b.opts.Region
	}

	backoff := retry.WithMaxRetries(createMaxRetries, retry.NewFibonacci(createRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.getBucket().Create(ctx, b.opts.Project, attrs)
		switch {
		case err == nil:
			return nil
		case strings.Contains(err.Error(), "409"):
			// Lost a create race; the bucket exists.
			return nil
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeBackendError,
			fmt.Sprintf("failed to create GCS bucket %q", b.opts.Bucket))
	}
	b.logger.Infof(ctx, "created state bucket %s", b.opts.Bucket)
	return nil
}

func (b *Backend) listRemotes(ctx context.Context) ([]string, error) {
	keyPrefix := b.prefix + "/"
	if b.prefix == "" {
		keyPrefix = ""
	}
	keys, err := b.listKeys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, key := range keys {
		rel := strings.TrimPrefix(key, keyPrefix)
		name, _, found := strings.Cut(rel, "/")
		if !found || name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

func (b *Backend) listKeys(ctx context.Context, keyPrefix string) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	it := b.getBucket().Objects(ctx, &storage.Query{Prefix: keyPrefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCloudAPIError,
				fmt.Sprintf("failed to list GCS objects under %q", keyPrefix))
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// HCL emits the backend block pointing one definition at its state prefix.
// Terraform appends the workspace state name (default.tfstate) itself.
func (b *Backend) HCL(name string) string {
	attrs := []backend.Attribute{
		{Name: "bucket", Value: cty.StringVal(b.opts.Bucket)},
		{Name: "prefix", Value: cty.StringVal(b.statePrefix(name))},
	}
	if b.opts.CredentialsFile != "" {
		attrs = append(attrs, backend.Attribute{Name: "credentials", Value: cty.StringVal(b.opts.CredentialsFile)})
	}
	return backend.EncodeBackendBlock(backendType, attrs)
}

// DataHCL emits one terraform_remote_state data block per distinct remote.
func (b *Backend) DataHCL(remotes []string) string {
	return backend.EncodeRemoteStateBlocks(backendType, remotes, func(remote string) []backend.Attribute {
		return []backend.Attribute{
			{Name: "bucket", Value: cty.StringVal(b.opts.Bucket)},
			{Name: "prefix", Value: cty.StringVal(b.statePrefix(remote))},
		}
	})
}

func (b *Backend) statePrefix(name string) string {
	return path.Join(b.prefix, name)
}

// Clean removes a deployment's remote state with the same per-object safety
// rules as the S3 backend: a state object is deleted only after downloading
// it and confirming it tracks zero resources. GCS has no lock table, so a
// full clean is just the prefix sweep; terraform's .tflock remnants are swept
// as auxiliary objects after their state validates.
func (b *Backend) Clean(ctx context.Context, deployment string, limit []string) error {
	prefix := ExpandPrefix(b.opts.Prefix, deployment)

	if len(limit) > 0 {
		for _, name := range limit {
			folder := path.Join(prefix, name) + "/"
			keys, err := b.listKeys(ctx, folder)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				b.logger.Debugf(ctx, "no objects under %s, nothing to clean", folder)
				continue
			}
			if err := b.deleteValidated(ctx, keys); err != nil {
				return err
			}
		}
		return nil
	}

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
	r, err := b.getBucket().Object(key).NewReader(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStateReadError,
			fmt.Sprintf("failed to open GCS object %q", key))
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStateReadError,
			fmt.Sprintf("failed to read GCS object %q", key))
	}
	return raw, nil
}

func (b *Backend) deleteObject(ctx context.Context, key string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.getBucket().Object(key).Delete(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCloudAPIError,
			fmt.Sprintf("failed to delete GCS object %q", key))
	}
	b.logger.Infof(ctx, "deleted gs://%s/%s", b.opts.Bucket, key)
	return nil
}
