package ports

import "context"

// Backend is the remote state and locking provider for one deployment.
// Construction is pure; EnsureReady performs the network side effects
// (bucket/table existence, remote enumeration) exactly once.
type Backend interface {
	Type() string
	EnsureReady(ctx context.Context) error
	HCL(name string) string
	DataHCL(remotes []string) string
	Clean(ctx context.Context, deployment string, limit []string) error
	Remotes() []string
	HookEnv() map[string]string
}
