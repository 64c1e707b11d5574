package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/tfconvoy/tfconvoy/internal/backend/gcs"
	"github.com/tfconvoy/tfconvoy/internal/backend/s3"
	"github.com/tfconvoy/tfconvoy/internal/cloud"
	"github.com/tfconvoy/tfconvoy/internal/config"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/core/service"
	"github.com/tfconvoy/tfconvoy/internal/errors"
	"github.com/tfconvoy/tfconvoy/internal/fetch"
	"github.com/tfconvoy/tfconvoy/internal/handlers/bitbucket"
	"github.com/tfconvoy/tfconvoy/internal/handlers/openai"
	"github.com/tfconvoy/tfconvoy/internal/handlers/s3plan"
	"github.com/tfconvoy/tfconvoy/internal/handlers/scanner"
	"github.com/tfconvoy/tfconvoy/internal/handlers/sqsnotify"
	"github.com/tfconvoy/tfconvoy/internal/log"
	"github.com/tfconvoy/tfconvoy/internal/reporting/text"
	"github.com/tfconvoy/tfconvoy/internal/run"
	"github.com/tfconvoy/tfconvoy/internal/tfexec"
	"github.com/tfconvoy/tfconvoy/internal/tfgen"
)

// BootstrapOptions carries the command-line decisions bootstrap needs beyond
// the configuration file.
type BootstrapOptions struct {
	Deployment string
	// CleanOnly skips everything past the backend: the clean command needs
	// no definitions, handlers or terraform binary, and must not trigger
	// backend creation side effects.
	CleanOnly bool
}

// BuildApplicationFromViper assembles one command invocation: configuration,
// logger, cloud sessions, backend, collections (frozen after population),
// driver and engine. Construction of the backend is pure; its network side
// effects run here, once, through EnsureReady.
func BuildApplicationFromViper(ctx context.Context, v *viper.Viper, opts BootstrapOptions) (*Application, error) {
	cfg, logger, err := loadConfig(ctx, v)
	if err != nil {
		return nil, err
	}

	limiter := cloud.NewLimiter(cfg.Settings.CloudRPS, logger)
	be, awsEnv, err := buildBackend(ctx, cfg, opts.Deployment, limiter, logger)
	if err != nil {
		return nil, err
	}

	appl := &Application{
		Config:   cfg,
		Logger:   logger,
		Backend:  be,
		Reporter: text.NewReporter(text.Config{}, logger.WithFields(map[string]any{"component": "reporter"})),
	}
	if opts.CleanOnly {
		return appl, nil
	}

	if err := be.EnsureReady(ctx); err != nil {
		return nil, err
	}

	definitions, err := buildDefinitions(cfg)
	if err != nil {
		return nil, err
	}

	handlers, err := buildHandlers(ctx, cfg, be, awsEnv, logger)
	if err != nil {
		return nil, err
	}

	workRoot := cfg.Settings.WorkingDirRoot
	if workRoot == "" {
		workRoot, err = os.MkdirTemp("", "tfconvoy-"+opts.Deployment+"-*")
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to create working directory root")
		}
	}

	driver := tfexec.New(cfg.Settings.TerraformBinary, cfg.Settings.StreamOutput,
		logger.WithFields(map[string]any{"component": "terraform"}))

	appl.Engine = run.NewEngine(run.EngineParams{
		Deployment:          opts.Deployment,
		RunID:               uuid.NewString(),
		Backend:             be,
		Definitions:         definitions,
		Handlers:            handlers,
		Driver:              driver,
		Fetcher:             fetch.NewLocalFetcher(logger),
		Writer:              tfgen.NewWriter(be, cfg.ProvidersHCL, logger),
		Plans:               run.NewPlanController(cfg.Settings.PlanFilePath, be.Type() == "s3", logger),
		Logger:              logger,
		WorkRoot:            workRoot,
		GlobalTerraformVars: cfg.TerraformVars,
		GlobalRemoteVars:    cfg.RemoteVars,
	})

	logger.Infof(ctx, "bootstrap complete: deployment=%s backend=%s definitions=%d handlers=%d",
		opts.Deployment, be.Type(), definitions.Len(), handlers.Len())
	return appl, nil
}

func loadConfig(ctx context.Context, v *viper.Viper) (*config.Config, ports.Logger, error) {
	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeConfigParseError, "failed to unmarshal configuration")
	}

	logger, err := log.NewLogger(log.Config{Level: cfg.Settings.LogLevel, Format: cfg.Settings.LogFormat})
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeInternal, "logger initialization failed")
	}
	logger.Debugf(ctx, "logger initialized (level=%s, format=%s)", cfg.Settings.LogLevel, cfg.Settings.LogFormat)
	if v.ConfigFileUsed() != "" {
		logger.Debugf(ctx, "using configuration file: %s", v.ConfigFileUsed())
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.StructCtx(ctx, cfg); err != nil {
		var details strings.Builder
		details.WriteString("configuration validation failed:")
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range validationErrors {
				details.WriteString(fmt.Sprintf("\n - field %q failed %q validation (value: %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			details.WriteString(" " + err.Error())
		}
		wrapped := errors.NewUserFacing(errors.CodeConfigValidation, details.String(),
			"Check your configuration file or flags.")
		logger.Errorf(ctx, wrapped, "configuration validation failed")
		return nil, nil, wrapped
	}

	return cfg, logger, nil
}

// awsEnvironment carries the shared AWS session pieces handler factories
// need. Nil clients mean no AWS session was established.
type awsEnvironment struct {
	auth     *cloud.AWSAuthenticator
	s3Client *awss3.Client
}

func buildBackend(ctx context.Context, cfg *config.Config, deployment string, limiter *cloud.Limiter, logger ports.Logger) (ports.Backend, *awsEnvironment, error) {
	switch cfg.Backend.Type {
	case "s3":
		auth, err := cloud.NewAWSAuthenticator(ctx, cfg.Backend.Region, cfg.Backend.Profile, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := auth.Validate(ctx); err != nil {
			return nil, nil, err
		}
		awsCfg := auth.Config()
		env := &awsEnvironment{auth: auth, s3Client: awss3.NewFromConfig(awsCfg)}
		be := s3.New(awsCfg, deployment, s3.Options{
			Bucket:              cfg.Backend.Bucket,
			Prefix:              cfg.Backend.Prefix,
			Region:              auth.Region(),
			Encrypt:             cfg.Backend.Encrypt,
			CreateBackendBucket: cfg.Backend.CreateBackendBucket,
		}, limiter, logger,
			s3.WithS3Client(env.s3Client),
			s3.WithDynamoDBClient(dynamodb.NewFromConfig(awsCfg)))
		return be, env, nil

	case "gcs":
		client, err := cloud.NewGCSClient(ctx, cfg.Backend.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		be := gcs.New(client, deployment, gcs.Options{
			Bucket:              cfg.Backend.Bucket,
			Prefix:              cfg.Backend.Prefix,
			Project:             cfg.Backend.Project,
			Region:              cfg.Backend.Region,
			CredentialsFile:     cfg.Backend.CredentialsFile,
			CreateBackendBucket: cfg.Backend.CreateBackendBucket,
		}, limiter, logger)
		return be, nil, nil
	}
	return nil, nil, errors.NewUserFacing(errors.CodeConfigValidation,
		fmt.Sprintf("unsupported backend type %q", cfg.Backend.Type), "Supported: s3, gcs.")
}

func buildDefinitions(cfg *config.Config) (*service.DefinitionsCollection, error) {
	definitions := service.NewDefinitionsCollection()
	for _, dc := range cfg.Definitions {
		if err := definitions.Add(dc.Definition()); err != nil {
			return nil, err
		}
	}
	definitions.Freeze()
	return definitions, nil
}

// buildHandlers registers every known handler factory, builds the configured
// instances plus the always-present plan replication handler, and freezes the
// collection.
func buildHandlers(ctx context.Context, cfg *config.Config, be ports.Backend, awsEnv *awsEnvironment, logger ports.Logger) (*service.HandlersCollection, error) {
	registry := service.NewHandlerRegistry()

	var planBucket, planPrefix string
	var planClient s3plan.S3ClientInterface
	if s3be, ok := be.(*s3.Backend); ok && awsEnv != nil {
		planBucket = s3be.Bucket()
		planPrefix = s3be.KeyPrefix()
		planClient = awsEnv.s3Client
	}

	factories := map[string]service.HandlerFactory{
		s3plan.Name: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			return s3plan.New(ctx, options, planClient, planBucket, planPrefix, logger)
		},
		scanner.TrivyName: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			return scanner.NewTrivy(ctx, options, nil, nil, logger)
		},
		scanner.SnykName: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			return scanner.NewSnyk(ctx, options, nil, nil, logger)
		},
		sqsnotify.Name: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			if awsEnv == nil {
				return nil, errors.NewUserFacing(errors.CodeConfigValidation,
					"the sqs handler requires an AWS session",
					"Use the s3 backend or remove the sqs handler block.")
			}
			return sqsnotify.New(ctx, options, sqs.NewFromConfig(awsEnv.auth.Config()), logger)
		},
		openai.Name: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			return openai.New(ctx, options, http.DefaultClient, logger)
		},
		bitbucket.Name: func(ctx context.Context, options map[string]any) (ports.Handler, error) {
			return bitbucket.New(ctx, options, http.DefaultClient, logger)
		},
	}
	for name, factory := range factories {
		if err := registry.Register(name, factory); err != nil {
			return nil, err
		}
	}

	collection := service.NewHandlersCollection(logger)

	// Plan replication is universal: present even without a handler block,
	// just not ready when the deployment does not use S3.
	names := make([]string, 0, len(cfg.Handlers)+1)
	if _, configured := cfg.Handlers[s3plan.Name]; !configured {
		names = append(names, s3plan.Name)
	}
	for name := range cfg.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		handler, err := registry.Build(ctx, name, cfg.Handlers[name])
		if err != nil {
			return nil, err
		}
		if err := collection.Add(handler); err != nil {
			return nil, err
		}
	}
	collection.Freeze()
	return collection, nil
}
