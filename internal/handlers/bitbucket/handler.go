// Package bitbucket reports run outcomes as Bitbucket commit build statuses,
// so a pipeline triggering this tool shows plan and apply results inline on
// the commit.
package bitbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/handlers"
)

// Name is the handler's registration name.
const Name = "bitbucket"

const (
	defaultBaseURL   = "https://api.bitbucket.org/2.0"
	defaultTokenEnv  = "BITBUCKET_TOKEN"
	defaultCommitEnv = "BITBUCKET_COMMIT"

	stateInProgress = "INPROGRESS"
	stateSuccessful = "SUCCESSFUL"
	stateFailed     = "FAILED"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	handlers.CommonOptions `mapstructure:",squash"`

	Workspace string `mapstructure:"workspace" validate:"required"`
	RepoSlug  string `mapstructure:"repo_slug" validate:"required"`
	// Commit pins the reported commit; unset, it is read from CommitEnv at
	// execution time.
	Commit    string `mapstructure:"commit"`
	CommitEnv string `mapstructure:"commit_env"`
	TokenEnv  string `mapstructure:"token_env"`
	BaseURL   string `mapstructure:"base_url"`
}

// Handler posts one build status per plan and apply boundary: INPROGRESS when
// the action starts, SUCCESSFUL or FAILED from the exit code once it ends.
// Both stages share one build key per (action, definition), so the terminal
// status overwrites the INPROGRESS one on the commit.
type Handler struct {
	handlers.Base
	opts       Options
	token      string
	httpClient *http.Client
	logger     ports.Logger
}

func New(ctx context.Context, options map[string]any, httpClient *http.Client, logger ports.Logger) (*Handler, error) {
	var opts Options
	if err := handlers.DecodeOptions(Name, options, &opts); err != nil {
		return nil, err
	}
	if opts.TokenEnv == "" {
		opts.TokenEnv = defaultTokenEnv
	}
	if opts.CommitEnv == "" {
		opts.CommitEnv = defaultCommitEnv
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	h := &Handler{
		Base:       handlers.NewBase(Name, domain.ActionPlan, domain.ActionApply),
		opts:       opts,
		httpClient: httpClient,
		logger:     logger.WithFields(map[string]any{"handler": Name}),
	}
	h.SetRequired(opts.Required)
	h.SetPriority(domain.ActionPlan, 90)
	h.SetPriority(domain.ActionApply, 90)

	h.token = os.Getenv(opts.TokenEnv)
	if h.token == "" {
		err := fmt.Errorf("%s is not set", opts.TokenEnv)
		if rerr := handlers.ResolveReadiness(ctx, logger, Name, opts.Required, err); rerr != nil {
			return nil, rerr
		}
		return h, nil
	}
	h.SetReady(true)
	return h, nil
}

type buildStatus struct {
	Key         string `json:"key"`
	State       string `json:"state"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

func (h *Handler) Execute(ctx context.Context, req ports.HandlerRequest) (*domain.HandlerResult, error) {
	if req.Stage == domain.StagePost && req.Result == nil {
		return nil, nil
	}

	commit := h.opts.Commit
	if commit == "" {
		commit = os.Getenv(h.opts.CommitEnv)
	}
	if commit == "" {
		h.logger.Debugf(ctx, "no commit to report against (%s unset), skipping", h.opts.CommitEnv)
		return nil, nil
	}

	state := stateInProgress
	description := fmt.Sprintf("deployment %s, definition %s, started",
		req.Deployment, req.Definition.Name)
	if req.Stage == domain.StagePost {
		state = stateSuccessful
		if req.Result.Failed() {
			state = stateFailed
		}
		description = fmt.Sprintf("deployment %s, definition %s, exit code %d",
			req.Deployment, req.Definition.Name, req.Result.ExitCode)
	}
	status := buildStatus{
		Key:         fmt.Sprintf("tfconvoy/%s/%s", req.Action, req.Definition.Name),
		State:       state,
		Name:        fmt.Sprintf("tfconvoy %s: %s", req.Action, req.Definition.Name),
		Description: description,
	}

	if err := h.postStatus(ctx, commit, status); err != nil {
		return nil, h.WrapErr(err)
	}
	h.logger.Infof(ctx, "reported %s for commit %.12s (%s)", status.State, commit, status.Key)

	return h.NewResult(req.Action, req.Stage, map[string]any{
		"definition": req.Definition.Name,
		"commit":     commit,
		"state":      status.State,
		"key":        status.Key,
	}), nil
}

func (h *Handler) postStatus(ctx context.Context, commit string, status buildStatus) error {
	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("bitbucket: marshal status: %w", err)
	}

	url := fmt.Sprintf("%s/repositories/%s/%s/commit/%s/statuses/build",
		h.opts.BaseURL, h.opts.Workspace, h.opts.RepoSlug, commit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bitbucket: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("bitbucket: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bitbucket: API error (status %d): %s", resp.StatusCode, string(raw))
	}
	return nil
}
