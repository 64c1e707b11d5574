package backend

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Attribute is one backend configuration attribute rendered in declaration
// order.
type Attribute struct {
	Name  string
	Value cty.Value
}

// EncodeBackendBlock renders the terraform { backend "<type>" { ... } }
// stanza written into each definition's generated file.
func EncodeBackendBlock(backendType string, attrs []Attribute) string {
	f := hclwrite.NewEmptyFile()
	tf := f.Body().AppendNewBlock("terraform", nil)
	be := tf.Body().AppendNewBlock("backend", []string{backendType})
	for _, a := range attrs {
		be.Body().SetAttributeValue(a.Name, a.Value)
	}
	return string(f.Bytes())
}

// EncodeRemoteStateBlocks renders one terraform_remote_state data block per
// distinct remote name. config supplies the per-remote backend attributes.
func EncodeRemoteStateBlocks(backendType string, remotes []string, config func(remote string) []Attribute) string {
	f := hclwrite.NewEmptyFile()
	for i, remote := range distinct(remotes) {
		if i > 0 {
			f.Body().AppendNewline()
		}
		block := f.Body().AppendNewBlock("data", []string{"terraform_remote_state", remote})
		block.Body().SetAttributeValue("backend", cty.StringVal(backendType))
		vals := make(map[string]cty.Value)
		for _, a := range config(remote) {
			vals[a.Name] = a.Value
		}
		block.Body().SetAttributeValue("config", cty.ObjectVal(vals))
	}
	return string(f.Bytes())
}

func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
