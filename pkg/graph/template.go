package graph

import (
	"k8s.io/apimachinery/pkg/runtime"
)

// TemplateFormatVersion is the template format understood by the deployment engine
const TemplateFormatVersion = "2010-09-09"

// Template encodes the graph as a declarative template keyed by logical ID
func (g *Graph) Template() map[string]interface{} {
	resources := make(map[string]interface{}, len(g.Nodes))
	for _, n := range g.Nodes {
		r := runtime.DeepCopyJSON(n.Object)
		r["Type"] = n.Type
		if len(n.DependsOn) > 0 {
			deps := make([]interface{}, len(n.DependsOn))
			for i, d := range n.DependsOn {
				deps[i] = d
			}
			r["DependsOn"] = deps
		}
		resources[n.ID] = r
	}

	tpl := map[string]interface{}{
		"AWSTemplateFormatVersion": TemplateFormatVersion,
		"Description":              g.Metadata.Name,
		"Resources":                resources,
	}

	if len(g.Outputs) > 0 {
		outputs := make(map[string]interface{}, len(g.Outputs))
		for name, out := range g.Outputs {
			o := map[string]interface{}{"Value": runtime.DeepCopyJSONValue(out.Value)}
			if out.Description != "" {
				o["Description"] = out.Description
			}
			outputs[name] = o
		}
		tpl["Outputs"] = outputs
	}

	return tpl
}
