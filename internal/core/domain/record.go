package domain

import "time"

type RunStatus string

const (
	StatusPlanned   RunStatus = "PLANNED"
	StatusNoChanges RunStatus = "NO_CHANGES"
	StatusApplied   RunStatus = "APPLIED"
	StatusDestroyed RunStatus = "DESTROYED"
	StatusSkipped   RunStatus = "SKIPPED"
	StatusError     RunStatus = "ERROR"
)

// ExecutionRecord summarizes the outcome of one definition in a run, consumed
// by the reporters after the engine finishes.
type ExecutionRecord struct {
	Definition string        `json:"definition"`
	Action     Action        `json:"action"`
	Status     RunStatus     `json:"status"`
	Changed    bool          `json:"changed"`
	PlanReused bool          `json:"plan_reused,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      error         `json:"-"`
	Detail     string        `json:"detail,omitempty"`
}
