// Package s3plan replicates saved plan files into the state bucket so a plan
// computed by one run can be applied by a later one. A downloaded plan is
// trusted only after its embedded state matches the current remote state's
// serial and lineage; anything stale is discarded on both sides.
package s3plan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	"github.com/tfconvoy/tfconvoy/internal/cloud"
	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// Name is the handler's registration name.
const Name = "s3"

//go:generate mockery --name S3ClientInterface --output ./mocks --outpkg mocks --case underscore

type S3ClientInterface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Options struct {
	handlers.CommonOptions `mapstructure:",squash"`
}

// Handler stores plans next to their definition's state object. It is
// registered for every run and reports not ready when the deployment does not
// use the S3 backend.
type Handler struct {
	handlers.Base
	client S3ClientInterface
	bucket string
	prefix string
	logger ports.Logger
}

func New(ctx context.Context, options map[string]any, client S3ClientInterface, bucket, prefix string, logger ports.Logger) (*Handler, error) {
	var opts Options
	if err := handlers.DecodeOptions(Name, options, &opts); err != nil {
		return nil, err
	}

	h := &Handler{
		Base:   handlers.NewBase(Name, domain.ActionPlan, domain.ActionApply),
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.WithFields(map[string]any{"handler": Name}),
	}
	h.SetRequired(opts.Required)
	h.SetPriority(domain.ActionPlan, 10)
	h.SetPriority(domain.ActionApply, 10)

	if client == nil || bucket == "" {
		err := fmt.Errorf("plan storage requires the s3 backend")
		if rerr := handlers.ResolveReadiness(ctx, logger, Name, opts.Required, err); rerr != nil {
			return nil, rerr
		}
		return h, nil
	}
	h.SetReady(true)
	return h, nil
}

func (h *Handler) Execute(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	switch {
	case req.Action == domain.ActionPlan && req.Stage == domain.StagePre:
		return h.prePlan(ctx, req)
	case req.Action == domain.ActionPlan && req.Stage == domain.StagePost:
		return h.postPlan(ctx, req)
	case req.Action == domain.ActionApply && req.Stage == domain.StagePre:
		return h.preApply(ctx, req)
	}
	return nil, nil
}

// prePlan downloads the definition's saved plan, if any, into the resolved
// local plan path. The plan survives only when its lineage check passes;
// otherwise both the local copy and the stale remote objects are removed.
func (h *Handler) prePlan(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if req.Definition.PlanFile == "" {
		return nil, nil
	}

	planKey := h.planKey(req.Definition.Name)
	raw, found, err := h.download(ctx, planKey)
	if err != nil {
		return nil, h.WrapErr(err)
	}
	if !found {
		h.logger.Debugf(ctx, "no saved plan for %s", req.Definition.Name)
		return nil, nil
	}

	if err := os.WriteFile(req.Definition.PlanFile, raw, 0o600); err != nil {
		return nil, h.WrapErr(apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to write downloaded plan to %s", req.Definition.PlanFile)))
	}

	ok, err := h.verifyLineage(ctx, req.Definition.PlanFile, req.Definition.Name)
	if err != nil {
		return nil, h.WrapErr(err)
	}
	if !ok {
		h.logger.Warnf(ctx, "saved plan for %s no longer matches remote state, discarding", req.Definition.Name)
		if err := os.Remove(req.Definition.PlanFile); err != nil && !os.IsNotExist(err) {
			return nil, h.WrapErr(err)
		}
		if err := h.deleteRemotePlan(ctx, req.Definition.Name); err != nil {
			return nil, h.WrapErr(err)
		}
		return h.NewResult(req.Action, req.Stage, map[string]any{
			"definition": req.Definition.Name,
			"downloaded": false,
			"discarded":  true,
		}), nil
	}

	h.logger.Infof(ctx, "reusing saved plan for %s from s3://%s/%s", req.Definition.Name, h.bucket, planKey)
	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition": req.Definition.Name,
		"downloaded": true,
		"key":        planKey,
	}), nil
}

// postPlan uploads a changed plan and its log next to the definition's state
// object. Zero-byte plans are never uploaded; the local log is removed once
// its remote copy exists.
func (h *Handler) postPlan(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if req.Result == nil || !req.Result.HasChanges() {
		return nil, nil
	}
	planPath := req.Definition.PlanFile
	if planPath == "" {
		return nil, nil
	}

	info, err := os.Stat(planPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, h.WrapErr(err)
	}
	if info.Size() == 0 {
		h.logger.Warnf(ctx, "plan file %s is empty, not uploading", planPath)
		return nil, nil
	}

	raw, err := os.ReadFile(planPath)
	if err != nil {
		return nil, h.WrapErr(err)
	}
	planKey := h.planKey(req.Definition.Name)
	if err := h.upload(ctx, planKey, raw); err != nil {
		return nil, h.WrapErr(err)
	}

	logPath := planPath + backend.PlanLogExt
	logUploaded := false
	if logRaw, err := os.ReadFile(logPath); err == nil && len(logRaw) > 0 {
		if err := h.upload(ctx, h.logKey(req.Definition.Name), logRaw); err != nil {
			return nil, h.WrapErr(err)
		}
		if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
			h.logger.Warnf(ctx, "failed to remove local plan log %s: %v", logPath, err)
		}
		logUploaded = true
	}

	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition":   req.Definition.Name,
		"uploaded":     true,
		"key":          planKey,
		"log_uploaded": logUploaded,
	}), nil
}

// preApply removes the definition's stored plan and log. A saved plan is
// single use: once an apply starts it must never be replayed.
func (h *Handler) preApply(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if err := h.deleteRemotePlan(ctx, req.Definition.Name); err != nil {
		return nil, h.WrapErr(err)
	}
	return nil, nil
}

// verifyLineage reports whether the plan archive's embedded state matches
// the current remote state document in both serial and lineage. A missing or
// unreadable side fails the check rather than erroring: the plan is simply
// not trustworthy. Only infrastructure failures surface as errors.
func (h *Handler) verifyLineage(ctx context.Context, planPath, name string) (bool, error) {
	planState, err := readPlanState(planPath)
	if err != nil {
		h.logger.Warnf(ctx, "saved plan for %s is unreadable: %v", name, err)
		return false, nil
	}

	raw, found, err := h.download(ctx, h.stateKey(name))
	if err != nil {
		return false, err
	}
	if !found {
		h.logger.Warnf(ctx, "no remote state for %s, saved plan cannot be verified", name)
		return false, nil
	}
	remote, err := backend.ParseState(raw)
	if err != nil {
		h.logger.Warnf(ctx, "remote state for %s is unreadable: %v", name, err)
		return false, nil
	}
	return remote.SameLineage(planState), nil
}

func (h *Handler) deleteRemotePlan(ctx context.Context, name string) error {
	for _, key := range []string{h.planKey(name), h.logKey(name)} {
		_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(h.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !cloud.IsNotFound(err) {
			return cloud.Classify(ctx, err, "S3 object", key)
		}
	}
	return nil
}

func (h *Handler) download(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, cloud.Classify(ctx, err, "S3 object", key)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("failed to read S3 object %q", key))
	}
	return raw, true, nil
}

func (h *Handler) upload(ctx context.Context, key string, raw []byte) error {
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return cloud.Classify(ctx, err, "S3 object", key)
	}
	h.logger.Infof(ctx, "uploaded s3://%s/%s", h.bucket, key)
	return nil
}

func (h *Handler) planKey(name string) string {
	return path.Join(h.prefix, name, backend.PlanFilename)
}

func (h *Handler) logKey(name string) string {
	return h.planKey(name) + backend.PlanLogExt
}

func (h *Handler) stateKey(name string) string {
	return path.Join(h.prefix, name, backend.StateFilename)
}
