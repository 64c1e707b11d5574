// Package tfexec drives the terraform binary. One Driver serves every
// definition in a run: it gates the binary version once, builds per-action
// argument lists, and captures each invocation into a TerraformResult whose
// exit code semantics are preserved exactly (plan runs with
// -detailed-exitcode, so 2 means changes, not failure).
package tfexec

import (
	"bytes"
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	goversion "github.com/hashicorp/go-version"
	jsoniter "github.com/json-iterator/go"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

const (
	defaultBinary = "terraform"
	// Versions below 1.0 predate the stable plan file format and the
	// -detailed-exitcode contract this tool depends on.
	minVersionConstraint = ">= 1.0.0"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RunCommandFunc executes one subprocess, wiring its output to the given
// writers, and reports the exit code. err is reserved for failures to run
// the binary at all.
type RunCommandFunc func(ctx context.Context, dir, binary string, args, env []string, stdout, stderr io.Writer) (int, error)

type Option func(*Driver)

// WithRunCommand provides an option to replace the subprocess runner, used in
// tests.
func WithRunCommand(fn RunCommandFunc) Option {
	return func(d *Driver) {
		if fn != nil {
			d.runCommand = fn
		}
	}
}

// WithStreamWriter redirects streamed subprocess output, used in tests.
func WithStreamWriter(w io.Writer) Option {
	return func(d *Driver) {
		if w != nil {
			d.streamTo = w
		}
	}
}

// Driver invokes terraform per definition per action.
type Driver struct {
	binary         string
	stream         bool
	runCommand     RunCommandFunc
	streamTo       io.Writer
	logger         ports.Logger
	checkedVersion bool
}

func New(binary string, stream bool, logger ports.Logger, opts ...Option) *Driver {
	if binary == "" {
		binary = defaultBinary
	}
	d := &Driver{
		binary:     binary,
		stream:     stream,
		runCommand: runCommand,
		streamTo:   os.Stdout,
		logger:     logger.WithFields(map[string]any{"component": "terraform"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func runCommand(ctx context.Context, dir, binary string, args, env []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if stderrs.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// CheckVersion probes the binary once and fails when it is older than the
// minimum this tool supports.
func (d *Driver) CheckVersion(ctx context.Context) error {
	if d.checkedVersion {
		return nil
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := d.runCommand(ctx, "", d.binary, []string{"version", "-json"}, os.Environ(), &stdout, &stderr)
	if err != nil {
		return apperrors.WrapUserFacing(err, apperrors.CodeTerraformError,
			fmt.Sprintf("failed to run %q", d.binary),
			"Check that terraform is installed and on PATH, or set terraform.binary_path.")
	}
	if exitCode != 0 {
		return apperrors.Newf(apperrors.CodeTerraformError,
			"%q version probe exited %d: %s", d.binary, exitCode, stderr.String())
	}

	var probe struct {
		TerraformVersion string `json:"terraform_version"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return apperrors.Wrap(err, apperrors.CodeTerraformVersion, "unparseable terraform version output")
	}
	current, err := goversion.NewVersion(probe.TerraformVersion)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeTerraformVersion,
			fmt.Sprintf("unparseable terraform version %q", probe.TerraformVersion))
	}
	constraint, err := goversion.NewConstraint(minVersionConstraint)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "invalid version constraint")
	}
	if !constraint.Check(current) {
		return apperrors.NewUserFacing(apperrors.CodeTerraformVersion,
			fmt.Sprintf("terraform %s is below the supported minimum (%s)", current, minVersionConstraint),
			"Upgrade terraform to a supported release.")
	}

	d.logger.Debugf(ctx, "terraform version %s accepted", current)
	d.checkedVersion = true
	return nil
}

// Exec runs one action and captures its outcome. A non-zero exit is not an
// error here: exit codes carry tool semantics and the caller interprets them.
func (d *Driver) Exec(ctx context.Context, req ports.TerraformRequest) (*domain.TerraformResult, error) {
	args := argsFor(req)
	d.logger.Debugf(ctx, "running terraform %v in %s", args, req.WorkingDir)

	var stdout, stderr bytes.Buffer
	outW := io.Writer(&stdout)
	errW := io.Writer(&stderr)
	if d.stream {
		outW = io.MultiWriter(&stdout, d.streamTo)
		errW = io.MultiWriter(&stderr, d.streamTo)
	}

	exitCode, err := d.runCommand(ctx, req.WorkingDir, d.binary, args, mergeEnv(req.Env), outW, errW)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTerraformError,
			fmt.Sprintf("failed to run terraform %s in %s", req.Action, req.WorkingDir))
	}
	return domain.NewTerraformResult(exitCode, stdout.Bytes(), stderr.Bytes()), nil
}

// ShowPlanJSON renders a saved plan as JSON for downstream consumers.
func (d *Driver) ShowPlanJSON(ctx context.Context, workingDir, planFile string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	exitCode, err := d.runCommand(ctx, workingDir, d.binary,
		[]string{"show", "-json", "-no-color", planFile}, mergeEnv(nil), &stdout, &stderr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTerraformError, "failed to run terraform show")
	}
	if exitCode != 0 {
		return nil, apperrors.Newf(apperrors.CodeTerraformError,
			"terraform show -json %s exited %d: %s", planFile, exitCode, stderr.String())
	}
	return stdout.Bytes(), nil
}

func argsFor(req ports.TerraformRequest) []string {
	switch req.Action {
	case domain.ActionInit:
		return []string{"init", "-input=false", "-no-color"}
	case domain.ActionPlan:
		args := []string{"plan", "-input=false", "-no-color", "-detailed-exitcode"}
		if req.Destroy {
			args = append(args, "-destroy")
		}
		if req.PlanFile != "" {
			args = append(args, "-out="+req.PlanFile)
		}
		return args
	case domain.ActionApply:
		args := []string{"apply", "-input=false", "-no-color"}
		if req.PlanFile != "" {
			// A saved plan is its own approval.
			return append(args, req.PlanFile)
		}
		return append(args, "-auto-approve")
	case domain.ActionDestroy:
		return []string{"destroy", "-input=false", "-no-color", "-auto-approve"}
	}
	return []string{req.Action.String()}
}

// mergeEnv layers the request's variables over the process environment in
// sorted key order, with TF_IN_AUTOMATION always set.
func mergeEnv(extra map[string]string) []string {
	env := append(os.Environ(), "TF_IN_AUTOMATION=1")
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
