// Package s3 implements the S3 + DynamoDB state backend: bucket and lock
// table lifecycle, backend HCL emission, remote enumeration, and safe
// cleanup of a deployment's state namespace.
package s3

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"
	"github.com/zclconf/go-cty/cty"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	"github.com/tfconvoy/tfconvoy/internal/cloud"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

const (
	backendType           = "s3"
	lockTablePrefix       = "terraform-"
	lockTableKey          = "LockID"
	deploymentToken       = "{deployment}"
	defaultPrefixTemplate = "terraform/state/" + deploymentToken

	createMaxRetries  = 4
	createRetryBase   = 500 * time.Millisecond
	tableWaitRetries  = 20
	tableWaitInterval = 3 * time.Second
)

// Options is the backend configuration, already schema-validated by the
// loader. CreateBackendBucket governs both bucket and lock table creation.
type Options struct {
	Bucket              string
	Prefix              string
	Region              string
	Encrypt             bool
	CreateBackendBucket bool
}

type Option func(*Backend)

// WithS3Client provides an option to set a custom S3 client.
func WithS3Client(client S3ClientInterface) Option {
	return func(b *Backend) {
		if client != nil {
			b.s3Client = client
		}
	}
}

// WithDynamoDBClient provides an option to set a custom DynamoDB client.
func WithDynamoDBClient(client DynamoDBClientInterface) Option {
	return func(b *Backend) {
		if client != nil {
			b.dbClient = client
		}
	}
}

// Backend is the S3 + DynamoDB remote state provider for one deployment.
// New performs no I/O; EnsureReady does the bucket/table/remotes work once.
type Backend struct {
	opts       Options
	deployment string
	prefix     string
	lockTable  string
	s3Client   S3ClientInterface
	dbClient   DynamoDBClientInterface
	limiter    *cloud.Limiter
	logger     ports.Logger
	remotes    []string
	ready      bool
}

func New(cfg aws.Config, deployment string, opts Options, limiter *cloud.Limiter, logger ports.Logger, optFns ...Option) *Backend {
	b := &Backend{
		opts:       opts,
		deployment: deployment,
		prefix:     ExpandPrefix(opts.Prefix, deployment),
		lockTable:  LockTableName(deployment),
		limiter:    limiter,
		logger:     logger.WithFields(map[string]any{"component": "s3_backend", "deployment": deployment}),
	}
	for _, fn := range optFns {
		fn(b)
	}
	if b.s3Client == nil {
		b.s3Client = s3.NewFromConfig(cfg)
	}
	if b.dbClient == nil {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}
	if b.limiter == nil {
		b.limiter = cloud.NewLimiter(0, logger)
	}
	return b
}

// ExpandPrefix resolves the configured key prefix for a deployment. An empty
// prefix falls back to terraform/state/{deployment}; a literal {deployment}
// token is replaced wherever it appears.
func ExpandPrefix(prefix, deployment string) string {
	if prefix == "" {
		prefix = defaultPrefixTemplate
	}
	prefix = strings.ReplaceAll(prefix, deploymentToken, deployment)
	return strings.Trim(prefix, "/")
}

// LockTableName is terraform-{deployment}, matching what terraform's own S3
// backend is pointed at through the generated HCL.
func LockTableName(deployment string) string {
	return lockTablePrefix + deployment
}

func (b *Backend) Type() string {
	return backendType
}

func (b *Backend) Bucket() string {
	return b.opts.Bucket
}

// KeyPrefix is the effective object prefix with the deployment expanded.
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
		"TFCONVOY_BACKEND_BUCKET":     b.opts.Bucket,
		"TFCONVOY_BACKEND_PREFIX":     b.prefix,
		"TFCONVOY_BACKEND_REGION":     b.opts.Region,
		"TFCONVOY_BACKEND_LOCK_TABLE": b.lockTable,
	}
}

// EnsureReady performs the backend's startup side effects: bucket and lock
// table existence (created only when CreateBackendBucket allows) and the
// remote state enumeration. Idempotent.
func (b *Backend) EnsureReady(ctx context.Context) error {
	if b.ready {
		return nil
	}
	if err := b.ensureBucket(ctx); err != nil {
		return err
	}
	if err := b.ensureLockTable(ctx); err != nil {
		return err
	}
	remotes, err := b.listRemotes(ctx)
	if err != nil {
		return err
	}
	b.remotes = remotes
	b.ready = true
	b.logger.Debugf(ctx, "backend ready: bucket=%s prefix=%s table=%s remotes=%d",
		b.opts.Bucket, b.prefix, b.lockTable, len(b.remotes))
	return nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.opts.Bucket)})
	if err == nil {
		return nil
	}
	if !cloud.IsNotFound(err) {
		return cloud.Classify(ctx, err, "S3 bucket", b.opts.Bucket)
	}
	if !b.opts.CreateBackendBucket {
		return apperrors.NewUserFacing(apperrors.CodeBackendError,
			fmt.Sprintf("state bucket %q does not exist", b.opts.Bucket),
			"Create the bucket or set backend.create_backend_bucket to true.")
	}
	return b.createBucket(ctx)
}

func (b *Backend) createBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(b.opts.Bucket)}
	if b.opts.Region != "" && b.opts.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.opts.Region),
		}
	}

	backoff := retry.WithMaxRetries(createMaxRetries, retry.NewFibonacci(createRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := b.s3Client.CreateBucket(ctx, input)
		switch {
		case err == nil:
			return nil
		case cloud.IsBucketAlreadyOwned(err):
			// Lost a create race against ourselves; the bucket is usable.
			return nil
		case cloud.IsFatalCreateError(err):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return cloud.Classify(ctx, err, "S3 bucket", b.opts.Bucket)
	}
	b.logger.Infof(ctx, "created state bucket %s", b.opts.Bucket)
	return nil
}

func (b *Backend) ensureLockTable(ctx context.Context) error {
	_, err := b.dbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.lockTable)})
	if err == nil {
		return nil
	}
	if !cloud.IsNotFound(err) {
		return cloud.Classify(ctx, err, "DynamoDB table", b.lockTable)
	}
	if !b.opts.CreateBackendBucket {
		return apperrors.NewUserFacing(apperrors.CodeBackendError,
			fmt.Sprintf("lock table %q does not exist", b.lockTable),
			"Create the table or set backend.create_backend_bucket to true.")
	}
	return b.createLockTable(ctx)
}

func (b *Backend) createLockTable(ctx context.Context) error {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(b.lockTable),
		KeySchema: []dbtypes.KeySchemaElement{{
			AttributeName: aws.String(lockTableKey),
			KeyType:       dbtypes.KeyTypeHash,
		}},
		AttributeDefinitions: []dbtypes.AttributeDefinition{{
			AttributeName: aws.String(lockTableKey),
			AttributeType: dbtypes.ScalarAttributeTypeS,
		}},
		BillingMode: dbtypes.BillingModePayPerRequest,
	}

	backoff := retry.WithMaxRetries(createMaxRetries, retry.NewFibonacci(createRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := b.dbClient.CreateTable(ctx, input)
		switch {
		case err == nil, cloud.IsTableInUse(err):
			return nil
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return cloud.Classify(ctx, err, "DynamoDB table", b.lockTable)
	}
	b.logger.Infof(ctx, "created lock table %s", b.lockTable)
	return b.waitTableActive(ctx)
}

func (b *Backend) waitTableActive(ctx context.Context) error {
	backoff := retry.WithMaxRetries(tableWaitRetries, retry.NewConstant(tableWaitInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := b.dbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.lockTable)})
		if err != nil {
			return retry.RetryableError(err)
		}
		if out.Table == nil || out.Table.TableStatus != dbtypes.TableStatusActive {
			return retry.RetryableError(fmt.Errorf("lock table %q is not active yet", b.lockTable))
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeBackendError,
			fmt.Sprintf("lock table %q never became active", b.lockTable))
	}
	return nil
}

// listRemotes derives the definitions with state present: the first path
// segment after the prefix of every key under it.
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
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.opts.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cloud.Classify(ctx, err, "S3 bucket", b.opts.Bucket)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// HCL emits the backend block pointing one definition at its state object
// and the deployment's lock table.
func (b *Backend) HCL(name string) string {
	return backend.EncodeBackendBlock(backendType, []backend.Attribute{
		{Name: "region", Value: cty.StringVal(b.opts.Region)},
		{Name: "bucket", Value: cty.StringVal(b.opts.Bucket)},
		{Name: "key", Value: cty.StringVal(b.stateKey(name))},
		{Name: "dynamodb_table", Value: cty.StringVal(b.lockTable)},
		{Name: "encrypt", Value: cty.BoolVal(b.opts.Encrypt)},
	})
}

// DataHCL emits one terraform_remote_state data block per distinct remote.
func (b *Backend) DataHCL(remotes []string) string {
	return backend.EncodeRemoteStateBlocks(backendType, remotes, func(remote string) []backend.Attribute {
		return []backend.Attribute{
			{Name: "region", Value: cty.StringVal(b.opts.Region)},
			{Name: "bucket", Value: cty.StringVal(b.opts.Bucket)},
			{Name: "key", Value: cty.StringVal(b.stateKey(remote))},
		}
	})
}

func (b *Backend) stateKey(name string) string {
	return path.Join(b.prefix, name, backend.StateFilename)
}
