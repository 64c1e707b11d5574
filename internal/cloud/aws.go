package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

//go:generate mockery --name STSClientInterface --output ./mocks --outpkg mocks --case underscore

// STSClientInterface defines the method needed from the AWS SDK STS client.
type STSClientInterface interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWSAuthenticator owns the shared AWS SDK configuration for one run.
// Construction loads the default credential chain; Validate proves the
// session works before any backend side effect happens.
type AWSAuthenticator struct {
	cfg       aws.Config
	stsClient STSClientInterface
	accountID string
	logger    ports.Logger
}

type AWSOption func(*AWSAuthenticator)

// WithSTSClient provides an option to set a custom STS client.
func WithSTSClient(client STSClientInterface) AWSOption {
	return func(a *AWSAuthenticator) {
		if client != nil {
			a.stsClient = client
		}
	}
}

func NewAWSAuthenticator(ctx context.Context, region, profile string, logger ports.Logger, opts ...AWSOption) (*AWSAuthenticator, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCloudAuthError, "failed to load AWS configuration")
	}

	a := &AWSAuthenticator{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.stsClient == nil {
		a.stsClient = sts.NewFromConfig(cfg)
	}
	return a, nil
}

// Validate calls GetCallerIdentity and caches the account ID.
func (a *AWSAuthenticator) Validate(ctx context.Context) error {
	out, err := a.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return errors.Wrap(err, errors.CodeCloudAuthError, "AWS session validation failed")
	}
	if out.Account == nil || *out.Account == "" {
		return errors.New(errors.CodeCloudAuthError, "AWS caller identity response did not contain an account ID")
	}
	a.accountID = *out.Account
	a.logger.Debugf(ctx, "AWS session validated for account %s", a.accountID)
	return nil
}

func (a *AWSAuthenticator) Config() aws.Config {
	return a.cfg
}

func (a *AWSAuthenticator) Region() string {
	return a.cfg.Region
}

func (a *AWSAuthenticator) AccountID() string {
	return a.accountID
}
