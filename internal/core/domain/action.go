package domain

// Action is one Terraform operation driven per definition.
type Action string

const (
	ActionInit    Action = "init"
	ActionPlan    Action = "plan"
	ActionApply   Action = "apply"
	ActionDestroy Action = "destroy"
)

func (a Action) String() string {
	return string(a)
}

// Stage marks whether handlers run before or after the Terraform action.
type Stage string

const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
)

func (s Stage) String() string {
	return string(s)
}

// AllActions lists every action in driver order.
func AllActions() []Action {
	return []Action{ActionInit, ActionPlan, ActionApply, ActionDestroy}
}
