// Package scanner implements the security scan handlers. Trivy and Snyk share
// one handler body; each contributes its binary name, argument shapes and
// readiness prerequisites. Scanner exit codes are tool findings, not
// infrastructure failures: any non-zero exit is a finding and the handler's
// required flag decides whether a finding ends the run.
package scanner

import (
	"context"
	stderrs "errors"
	"os"
	"os/exec"
)

// RunFunc executes a scanner binary and reports its exit code and combined
// output. err is reserved for failures to run the binary at all.
type RunFunc func(ctx context.Context, dir, binary string, args, extraEnv []string) (int, []byte, error)

// LookPathFunc resolves a binary on PATH, exec.LookPath in production.
type LookPathFunc func(binary string) (string, error)

func lookPathDefault(binary string) (string, error) {
	return exec.LookPath(binary)
}

func runBinary(ctx context.Context, dir, binary string, args, extraEnv []string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if stderrs.As(err, &exitErr) {
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, err
	}
	return 0, output, nil
}
