package run

import (
	"strings"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
)

// HooksEnv builds the environment map one definition's terraform invocations
// run under. Handlers receive the same context through the request struct;
// the subprocess gets it through TFCONVOY_* variables plus a TF_VAR_* entry
// per effective terraform variable.
func HooksEnv(deployment, runID string, backend ports.Backend, def *domain.Definition, terraformVars map[string]string) map[string]string {
	env := map[string]string{
		"TFCONVOY_DEPLOYMENT": deployment,
		"TFCONVOY_DEFINITION": def.Name,
		"TFCONVOY_RUN_ID":     runID,
	}
	for k, v := range backend.HookEnv() {
		env[k] = v
	}
	for _, remote := range backend.Remotes() {
		env["TFCONVOY_REMOTE_"+envToken(remote)] = remote
	}
	for name, value := range terraformVars {
		env["TF_VAR_"+name] = value
	}
	return env
}

// envToken uppercases a definition name and squashes anything that cannot
// appear in an environment variable name.
func envToken(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
