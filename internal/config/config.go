// Package config holds the configuration schema the CLI loads through viper.
// Everything here is plain data: defaulting happens in DefaultConfig, strict
// validation happens once during bootstrap.
package config

import (
	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

type Config struct {
	Settings    SettingsConfig     `yaml:"settings" mapstructure:"settings"`
	Backend     BackendConfig      `yaml:"backend" mapstructure:"backend" validate:"required"`
	Definitions []DefinitionConfig `yaml:"definitions" mapstructure:"definitions" validate:"required,min=1,dive"`

	// Handlers maps handler registration names to their raw option blocks;
	// each handler decodes and validates its own block strictly.
	Handlers map[string]map[string]any `yaml:"handlers" mapstructure:"handlers"`

	// ProvidersHCL is passed through verbatim into each definition's
	// generated terraform file. Provider syntax is terraform's business.
	ProvidersHCL string `yaml:"providers_hcl" mapstructure:"providers_hcl"`

	// Global variable maps; definitions merge their own values over these,
	// honoring per-definition use/ignore rules.
	TerraformVars map[string]string `yaml:"terraform_vars" mapstructure:"terraform_vars"`
	RemoteVars    map[string]string `yaml:"remote_vars" mapstructure:"remote_vars"`
	TemplateVars  map[string]string `yaml:"template_vars" mapstructure:"template_vars"`
}

type SettingsConfig struct {
	LogLevel  log.Level  `yaml:"log_level" mapstructure:"log_level"`
	LogFormat log.Format `yaml:"log_format" mapstructure:"log_format"`

	// TerraformBinary overrides the binary resolved on PATH.
	TerraformBinary string `yaml:"terraform_binary" mapstructure:"terraform_binary"`
	// StreamOutput echoes terraform output incrementally instead of only
	// capturing it.
	StreamOutput bool `yaml:"stream_output" mapstructure:"stream_output"`
	// WorkingDirRoot is where per-definition working directories are
	// materialized; empty means a temporary directory per run.
	WorkingDirRoot string `yaml:"working_dir_root" mapstructure:"working_dir_root"`
	// PlanFilePath enables plan persistence under
	// {plan_file_path}/{deployment}/{definition}.tfplan.
	PlanFilePath string `yaml:"plan_file_path" mapstructure:"plan_file_path"`
	// CloudRPS throttles bulk cloud API loops (clean sweeps, listings).
	CloudRPS int `yaml:"cloud_rps" mapstructure:"cloud_rps" validate:"omitempty,min=1,max=100"`
}

// BackendConfig selects and parameterizes the remote state backend.
type BackendConfig struct {
	Type   string `yaml:"type" mapstructure:"type" validate:"required,oneof=s3 gcs"`
	Bucket string `yaml:"bucket" mapstructure:"bucket" validate:"required"`
	// Prefix may carry a literal {deployment} token; empty defaults to
	// terraform/state/{deployment}.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`

	// S3 backend.
	Region  string `yaml:"region" mapstructure:"region"`
	Profile string `yaml:"profile" mapstructure:"profile"`
	Encrypt bool   `yaml:"encrypt" mapstructure:"encrypt"`

	// GCS backend.
	Project         string `yaml:"project" mapstructure:"project"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`

	// CreateBackendBucket permits creating the bucket (and, for s3, the lock
	// table) when missing; otherwise a missing bucket is a hard error.
	CreateBackendBucket bool `yaml:"create_backend_bucket" mapstructure:"create_backend_bucket"`
}

type DefinitionConfig struct {
	Name          string `yaml:"name" mapstructure:"name" validate:"required"`
	Path          string `yaml:"path" mapstructure:"path" validate:"required"`
	AlwaysApply   bool   `yaml:"always_apply" mapstructure:"always_apply"`
	AlwaysInclude bool   `yaml:"always_include" mapstructure:"always_include"`

	TerraformVars VarSetConfig `yaml:"terraform_vars" mapstructure:"terraform_vars"`
	RemoteVars    VarSetConfig `yaml:"remote_vars" mapstructure:"remote_vars"`
	TemplateVars  VarSetConfig `yaml:"template_vars" mapstructure:"template_vars"`
}

type VarSetConfig struct {
	Values       map[string]string `yaml:"values" mapstructure:"values"`
	UseGlobal    []string          `yaml:"use_global_vars" mapstructure:"use_global_vars"`
	IgnoreGlobal []string          `yaml:"ignore_global_vars" mapstructure:"ignore_global_vars"`
}

func (v VarSetConfig) VarSet() domain.VarSet {
	return domain.VarSet{
		Values:       v.Values,
		UseGlobal:    v.UseGlobal,
		IgnoreGlobal: v.IgnoreGlobal,
	}
}

// Definition builds the domain object for one configured definition.
func (d DefinitionConfig) Definition() *domain.Definition {
	return &domain.Definition{
		Name:          d.Name,
		Path:          d.Path,
		AlwaysApply:   d.AlwaysApply,
		AlwaysInclude: d.AlwaysInclude,
		TerraformVars: d.TerraformVars.VarSet(),
		RemoteVars:    d.RemoteVars.VarSet(),
		TemplateVars:  d.TemplateVars.VarSet(),
	}
}

func DefaultConfig() *Config {
	return &Config{
		Settings: SettingsConfig{
			LogLevel:  log.LevelInfo,
			LogFormat: log.FormatText,
		},
	}
}
