package backend

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// Object names shared by every backend implementation and the plan
// replication handler.
const (
	StateFilename = "terraform.tfstate"
	PlanFilename  = "terraform.tfplan"
	PlanLogExt    = ".log"

	stateExt = ".tfstate"
)

// IsStateObject reports whether a storage key names a Terraform state
// document. Matching by extension keeps workspace-named states (GCS writes
// default.tfstate) under the same deletion safety rules.
func IsStateObject(key string) bool {
	return strings.HasSuffix(key, stateExt)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// State is the subset of a Terraform state document this tool interprets:
	// resource presence for cleanup safety, serial and lineage for saved-plan
	// verification. Everything else stays Terraform's business.
	State struct {
		Version          int        `json:"version"`
		TerraformVersion string     `json:"terraform_version,omitempty"`
		Serial           uint64     `json:"serial"`
		Lineage          string     `json:"lineage"`
		Resources        []Resource `json:"resources"`
	}

	Resource struct {
		Module string `json:"module,omitempty"`
		Mode   string `json:"mode"`
		Type   string `json:"type"`
		Name   string `json:"name"`
	}
)

// ParseState decodes a state document. An empty or malformed document is an
// error, never treated as empty state.
func ParseState(raw []byte) (*State, error) {
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CodeStateParseError, "state document is empty")
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStateParseError, "invalid JSON in state document")
	}
	return &state, nil
}

// Empty reports whether the state tracks no resources and is safe to remove.
func (s *State) Empty() bool {
	return s != nil && len(s.Resources) == 0
}

// SameLineage reports whether two state documents share serial and lineage.
// Both must match for a saved plan to still apply cleanly.
func (s *State) SameLineage(other *State) bool {
	if s == nil || other == nil {
		return false
	}
	return s.Serial == other.Serial && s.Lineage == other.Lineage
}
