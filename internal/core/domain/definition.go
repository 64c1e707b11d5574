package domain

// VarSet holds one category of definition variables together with its
// override rules against the matching global map. UseGlobal is an allowlist:
// when non-nil, only the named globals are inherited. IgnoreGlobal removes
// individual globals after the allowlist is applied. Definition-local values
// always win.
type VarSet struct {
	Values       map[string]string
	UseGlobal    []string
	IgnoreGlobal []string
}

// Effective merges the global map under the definition-local values, honoring
// the allowlist and ignore rules.
func (v VarSet) Effective(global map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(v.Values))

	allow := map[string]struct{}{}
	for _, name := range v.UseGlobal {
		allow[name] = struct{}{}
	}
	ignore := map[string]struct{}{}
	for _, name := range v.IgnoreGlobal {
		ignore[name] = struct{}{}
	}

	for name, value := range global {
		if v.UseGlobal != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		if _, ok := ignore[name]; ok {
			continue
		}
		merged[name] = value
	}
	for name, value := range v.Values {
		merged[name] = value
	}
	return merged
}

// Definition is one Terraform root module managed for a deployment.
// PlanFile is the only mutable attribute: the plan controller resolves it
// immediately before planning and handlers read it afterwards.
type Definition struct {
	Name          string
	Path          string
	AlwaysApply   bool
	AlwaysInclude bool
	PlanFile      string

	TerraformVars VarSet
	RemoteVars    VarSet
	TemplateVars  VarSet
}

// IncludedIn reports whether the definition survives a --limit filter.
// Definitions flagged always_include (or always_apply) bypass the limiter.
func (d *Definition) IncludedIn(limit []string) bool {
	if len(limit) == 0 || d.AlwaysInclude || d.AlwaysApply {
		return true
	}
	for _, name := range limit {
		if name == d.Name {
			return true
		}
	}
	return false
}
