// Package openai turns changed plans into human-readable artifacts: a
// natural-language summary and a cost-estimate payload, each written next to
// the plan file. The plan's JSON rendering is the model input; the binary
// archive is never sent anywhere.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"

	tfjson "github.com/hashicorp/terraform-json"
	jsoniter "github.com/json-iterator/go"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
)

// Name is the handler's registration name.
const Name = "openai"

const (
	defaultModel   = "gpt-4o"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultAPIEnv  = "OPENAI_API_KEY"

	// TaskSummarize writes <plan>.summary.md.
	TaskSummarize = "summarize"
	// TaskCostEstimate writes <plan>.cost.json.
	TaskCostEstimate = "cost-estimate"

	summarizePrompt = "You are a Terraform reviewer. Summarize the following " +
		"Terraform plan JSON for a human operator: what is created, changed and " +
		"destroyed, and any risky or destructive operations. Be concise."
	costPrompt = "You are a cloud cost analyst. Estimate the monthly cost impact " +
		"of the following Terraform plan JSON. Respond with a JSON object with " +
		"fields: currency, monthly_delta_estimate, line_items (array of " +
		"{resource, monthly_estimate, note}), caveats."
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	handlers.CommonOptions `mapstructure:",squash"`

	// Tasks selects what gets generated for each changed plan.
	Tasks []string `mapstructure:"tasks" validate:"required,min=1,dive,oneof=summarize cost-estimate"`
	// APIKeyEnv names the environment variable carrying the credential.
	APIKeyEnv string `mapstructure:"api_key_env"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"omitempty,min=1"`
}

// Handler runs on PLAN/POST when the plan carries changes.
type Handler struct {
	handlers.Base
	opts   Options
	client *client
	logger ports.Logger
}

// New decodes the handler options and checks the credential is present. A
// missing API key follows the required-flag policy: fatal for a required
// handler, skipped otherwise.
func New(ctx context.Context, options map[string]any, httpClient *http.Client, logger ports.Logger) (*Handler, error) {
	var opts Options
	if err := handlers.DecodeOptions(Name, options, &opts); err != nil {
		return nil, err
	}
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = defaultAPIEnv
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}

	h := &Handler{
		Base:   handlers.NewBase(Name, domain.ActionPlan),
		opts:   opts,
		logger: logger.WithFields(map[string]any{"handler": Name}),
	}
	h.SetRequired(opts.Required)
	h.SetPriority(domain.ActionPlan, 60)
	h.SetDependencies(domain.ActionPlan, domain.StagePost, "s3")

	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		err := fmt.Errorf("%s is not set", opts.APIKeyEnv)
		if rerr := handlers.ResolveReadiness(ctx, logger, Name, opts.Required, err); rerr != nil {
			return nil, rerr
		}
		return h, nil
	}

	h.client = newClient(opts.BaseURL, apiKey, opts.Model, httpClient)
	h.SetReady(true)
	return h, nil
}

func (h *Handler) Execute(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if req.Action != domain.ActionPlan || req.Stage != domain.StagePost {
		return nil, nil
	}
	if req.Result == nil || !req.Result.HasChanges() || req.Definition.PlanFile == "" {
		return nil, nil
	}

	planJSONPath := req.Definition.PlanFile + ".json"
	raw, err := os.ReadFile(planJSONPath)
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Debugf(ctx, "no plan JSON at %s, nothing to summarize", planJSONPath)
			return nil, nil
		}
		return nil, h.WrapErr(err)
	}

	// Parse once so malformed plan JSON fails here, not in a model prompt.
	var plan tfjson.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, h.WrapErr(fmt.Errorf("plan JSON %s is not a terraform plan: %w", planJSONPath, err))
	}

	written := make(map[string]string, len(h.opts.Tasks))
	for _, task := range h.opts.Tasks {
		outPath, err := h.runTask(ctx, task, req.Definition.PlanFile, raw)
		if err != nil {
			return nil, h.WrapErr(err)
		}
		written[task] = outPath
		h.logger.Infof(ctx, "wrote %s for %s to %s", task, req.Definition.Name, outPath)
	}

	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition": req.Definition.Name,
		"model":      h.opts.Model,
		"artifacts":  written,
	}), nil
}

func (h *Handler) runTask(ctx context.Context, task, planFile string, planJSON []byte) (string, error) {
	var prompt, outPath string
	switch task {
	case TaskSummarize:
		prompt = summarizePrompt
		outPath = planFile + ".summary.md"
	case TaskCostEstimate:
		prompt = costPrompt
		outPath = planFile + ".cost.json"
	default:
		return "", fmt.Errorf("unknown task %q", task)
	}

	content, err := h.client.complete(ctx, prompt, string(planJSON), h.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return outPath, nil
}
