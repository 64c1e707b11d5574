// Package handlers carries what every concrete handler shares: the scheduling
// metadata base, strict option decoding, and the required-flag readiness
// policy.
package handlers

import (
	"context"
	"fmt"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
)

// Base holds a handler's registration name, declared actions, scheduling
// hints and readiness state. Concrete handlers embed it and implement
// Execute themselves.
type Base struct {
	name         string
	actions      []domain.Action
	priorities   map[domain.Action]int
	dependencies map[domain.Action]map[domain.Stage][]string
	ready        bool
	required     bool
}

func NewBase(name string, actions ...domain.Action) Base {
	return Base{name: name, actions: actions}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Actions() []domain.Action {
	return b.actions
}

// IsReady reports the readiness cached at construction. Handlers with live
// checks compute them once and record the outcome here.
func (b *Base) IsReady(_ context.Context) bool {
	return b.ready
}

func (b *Base) SetReady(ready bool) {
	b.ready = ready
}

func (b *Base) Required() bool {
	return b.required
}

func (b *Base) SetRequired(required bool) {
	b.required = required
}

// DefaultPriority is the tie-break weight among unblocked handlers; lower
// runs earlier. Unset actions weigh 0.
func (b *Base) DefaultPriority(action domain.Action) int {
	if p, ok := b.priorities[action]; ok {
		return p
	}
	return 0
}

func (b *Base) SetPriority(action domain.Action, priority int) {
	if b.priorities == nil {
		b.priorities = make(map[domain.Action]int)
	}
	b.priorities[action] = priority
}

// Dependencies names the handlers that must run earlier in the same
// (action, stage) batch.
func (b *Base) Dependencies(action domain.Action, stage domain.Stage) []string {
	if m, ok := b.dependencies[action]; ok {
		return m[stage]
	}
	return nil
}

func (b *Base) SetDependencies(action domain.Action, stage domain.Stage, deps ...string) {
	if b.dependencies == nil {
		b.dependencies = make(map[domain.Action]map[domain.Stage][]string)
	}
	if b.dependencies[action] == nil {
		b.dependencies[action] = make(map[domain.Stage][]string)
	}
	b.dependencies[action][stage] = deps
}

// NewResult builds this handler's result record for one (action, stage).
func (b *Base) NewResult(action domain.Action, stage domain.Stage, fields map[string]any) *domain.HandlerResult {
	return &domain.HandlerResult{Handler: b.name, Action: action, Stage: stage, Fields: fields}
}

// Errorf builds a HandlerError whose Terminate flag follows the handler's
// required option: failures of required handlers abort the run, others are
// logged and skipped.
func (b *Base) Errorf(format string, args ...any) *domain.HandlerError {
	return domain.NewHandlerError(b.name, b.required, fmt.Errorf(format, args...))
}

// WrapErr is Errorf for an existing error.
func (b *Base) WrapErr(err error) *domain.HandlerError {
	return domain.NewHandlerError(b.name, b.required, err)
}
