package domain

// Terraform exit codes. Plan runs with -detailed-exitcode, so 2 means the plan
// succeeded and contains changes; these values must not be collapsed into a
// single success/failure boolean.
const (
	TerraformExitClean   = 0
	TerraformExitError   = 1
	TerraformExitChanges = 2
)

// TerraformResult captures one terraform subprocess invocation. Values are
// never mutated after construction.
type TerraformResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func NewTerraformResult(exitCode int, stdout, stderr []byte) *TerraformResult {
	return &TerraformResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

// HasChanges reports whether a plan produced changes (detailed exit code 2).
func (r *TerraformResult) HasChanges() bool {
	return r.ExitCode == TerraformExitChanges
}

// Failed reports a hard terraform error (exit code 1).
func (r *TerraformResult) Failed() bool {
	return r.ExitCode == TerraformExitError
}

func (r *TerraformResult) StdoutString() string {
	return string(r.Stdout)
}

func (r *TerraformResult) StderrString() string {
	return string(r.Stderr)
}
