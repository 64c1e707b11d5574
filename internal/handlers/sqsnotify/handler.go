// Package sqsnotify dispatches run events to SQS. Each configured queue
// receives one JSON message per matching (action, stage) boundary, carrying
// the terraform outcome and every handler result collected so far in the run.
package sqsnotify

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/tfconvoy/tfconvoy/internal/cloud"
	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// Name is the handler's registration name.
const Name = "sqs"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:generate mockery --name SQSClientInterface --output ./mocks --outpkg mocks --case underscore

type SQSClientInterface interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Rule filters which (action, stage, exit code) boundaries reach a queue. An
// empty list matches everything in its dimension; a results filter matches
// only boundaries that carry a terraform result.
type Rule struct {
	Actions []string `mapstructure:"actions" validate:"dive,oneof=init plan apply destroy"`
	Stages  []string `mapstructure:"stages" validate:"dive,oneof=pre post"`
	Results []int    `mapstructure:"results"`
}

// Matches reports whether one boundary passes the rule.
func (r Rule) Matches(action domain.Action, stage domain.Stage, result *domain.TerraformResult) bool {
	if len(r.Actions) > 0 && !containsString(r.Actions, action.String()) {
		return false
	}
	if len(r.Stages) > 0 && !containsString(r.Stages, stage.String()) {
		return false
	}
	if len(r.Results) > 0 {
		if result == nil {
			return false
		}
		if !containsInt(r.Results, result.ExitCode) {
			return false
		}
	}
	return true
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func containsInt(list []int, want int) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Options supports both targeting forms: a flat queue list sharing the
// top-level filters, and a per-queue rule map whose filters are evaluated
// independently per queue.
type Options struct {
	handlers.CommonOptions `mapstructure:",squash"`
	Rule                   `mapstructure:",squash"`

	Queues      []string        `mapstructure:"queues"`
	QueueRules  map[string]Rule `mapstructure:"queue_rules"`
	IncludePlan bool            `mapstructure:"include_plan"`
}

// Handler sends one message per target queue at every matching boundary.
type Handler struct {
	handlers.Base
	client SQSClientInterface
	opts   Options
	logger ports.Logger
}

// New decodes the handler options and eagerly validates every configured
// queue. An unreachable or missing queue is a configuration error and always
// fatal, whatever the required flag says: a typoed queue URL must not be
// discovered mid-run.
func New(ctx context.Context, options map[string]any, client SQSClientInterface, logger ports.Logger) (*Handler, error) {
	var opts Options
	if err := handlers.DecodeOptions(Name, options, &opts); err != nil {
		return nil, err
	}
	if len(opts.Queues) == 0 && len(opts.QueueRules) == 0 {
		return nil, apperrors.NewUserFacing(apperrors.CodeConfigValidation,
			fmt.Sprintf("handler %q has no queues configured", Name),
			"Set queues or queue_rules in the handler block.")
	}

	h := &Handler{
		Base:   handlers.NewBase(Name, domain.ActionInit, domain.ActionPlan, domain.ActionApply, domain.ActionDestroy),
		client: client,
		opts:   opts,
		logger: logger.WithFields(map[string]any{"handler": Name}),
	}
	h.SetRequired(opts.Required)
	h.SetPriority(domain.ActionPlan, 80)
	h.SetPriority(domain.ActionApply, 80)
	h.SetPriority(domain.ActionDestroy, 80)
	// Messages must carry the batch's other results, so sqs goes last.
	h.SetDependencies(domain.ActionPlan, domain.StagePost, "s3", "trivy", "snyk", "openai")

	if err := h.validateQueues(ctx); err != nil {
		return nil, err
	}
	h.SetReady(true)
	return h, nil
}

func (h *Handler) validateQueues(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range h.allQueues() {
		g.Go(func() error {
			_, err := h.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl: aws.String(queue),
			})
			if err != nil {
				return apperrors.WrapUserFacing(cloud.Classify(ctx, err, "SQS queue", queue),
					apperrors.CodeConfigValidation,
					fmt.Sprintf("SQS queue %q is not reachable", queue),
					"Check the queue URL and the credentials' sqs:GetQueueAttributes permission.")
			}
			return nil
		})
	}
	return g.Wait()
}

// allQueues is the distinct union of both targeting forms, sorted for
// deterministic validation and dispatch order.
func (h *Handler) allQueues() []string {
	seen := make(map[string]struct{}, len(h.opts.Queues)+len(h.opts.QueueRules))
	var out []string
	for _, q := range h.opts.Queues {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	for q := range h.opts.QueueRules {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}

// TargetQueues computes the queues whose filters pass for one boundary. Flat
// queues share the handler-level rule; mapped queues apply their own rules
// independently.
func (h *Handler) TargetQueues(action domain.Action, stage domain.Stage, result *domain.TerraformResult) []string {
	seen := make(map[string]struct{})
	var out []string
	if h.opts.Rule.Matches(action, stage, result) {
		for _, q := range h.opts.Queues {
			if _, ok := seen[q]; !ok {
				seen[q] = struct{}{}
				out = append(out, q)
			}
		}
	}
	for q, rule := range h.opts.QueueRules {
		if !rule.Matches(action, stage, result) {
			continue
		}
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}

type message struct {
	Deployment string                 `json:"deployment"`
	Definition string                 `json:"definition"`
	RunID      string                 `json:"run_id,omitempty"`
	Action     string                 `json:"action"`
	Stage      string                 `json:"stage"`
	ExitCode   *int                   `json:"exit_code,omitempty"`
	Stdout     string                 `json:"stdout,omitempty"`
	Stderr     string                 `json:"stderr,omitempty"`
	PlanJSON   string                 `json:"plan_json,omitempty"`
	Results    []domain.HandlerResult `json:"handler_results,omitempty"`
}

func (h *Handler) Execute(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	targets := h.TargetQueues(req.Action, req.Stage, req.Result)
	if len(targets) == 0 {
		return nil, nil
	}

	msg := message{
		Deployment: req.Deployment,
		Definition: req.Definition.Name,
		RunID:      req.RunID,
		Action:     req.Action.String(),
		Stage:      req.Stage.String(),
	}
	if req.Result != nil {
		code := req.Result.ExitCode
		msg.ExitCode = &code
		msg.Stdout = req.Result.StdoutString()
		msg.Stderr = req.Result.StderrString()
	}
	if h.opts.IncludePlan && req.Definition.PlanFile != "" {
		// The plan's JSON rendering travels in messages; the binary archive
		// stays in the bucket.
		if raw, err := os.ReadFile(req.Definition.PlanFile + ".json"); err == nil {
			msg.PlanJSON = string(raw)
		}
	}
	if req.Results != nil {
		msg.Results = req.Results.All()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, h.WrapErr(fmt.Errorf("failed to encode SQS message: %w", err))
	}

	messageIDs := make([]string, 0, len(targets))
	for _, queue := range targets {
		out, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queue),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			return nil, h.WrapErr(cloud.Classify(ctx, err, "SQS queue", queue))
		}
		messageIDs = append(messageIDs, aws.ToString(out.MessageId))
		h.logger.Debugf(ctx, "notified %s for %s/%s", queue, req.Action, req.Stage)
	}

	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition":  req.Definition.Name,
		"queues":      targets,
		"message_ids": messageIDs,
	}), nil
}
