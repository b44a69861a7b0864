package graph

import (
	"sort"
	"strings"
)

// Pseudo parameters are resolved by the deployment engine and never name a node
const (
	PseudoRegion    = "AWS::Region"
	PseudoAccountID = "AWS::AccountId"
	PseudoURLSuffix = "AWS::URLSuffix"
)

const (
	refKey    = "Ref"
	getAttKey = "Fn::GetAtt"
	joinKey   = "Fn::Join"
)

// Ref returns a symbolic reference to a node's primary identifier
func Ref(id string) map[string]interface{} {
	return map[string]interface{}{refKey: id}
}

// GetAtt returns a symbolic reference to an attribute of a node
func GetAtt(id, attribute string) map[string]interface{} {
	return map[string]interface{}{getAttKey: []interface{}{id, attribute}}
}

// Join returns a symbolic concatenation resolved by the deployment engine
func Join(sep string, parts ...interface{}) map[string]interface{} {
	list := make([]interface{}, len(parts))
	copy(list, parts)
	return map[string]interface{}{joinKey: []interface{}{sep, list}}
}

// IsSymbolic reports whether v is a reference or intrinsic rather than a literal
func IsSymbolic(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return false
	}
	for k := range m {
		return k == refKey || strings.HasPrefix(k, "Fn::")
	}
	return false
}

// References returns the sorted, de-duplicated node IDs referenced anywhere in v
func References(v interface{}) []string {
	seen := make(map[string]struct{})
	collectRefs(v, seen)

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v interface{}, seen map[string]struct{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		if id, ok := val[refKey].(string); ok && len(val) == 1 {
			if !strings.HasPrefix(id, "AWS::") {
				seen[id] = struct{}{}
			}
			return
		}
		if args, ok := val[getAttKey].([]interface{}); ok && len(val) == 1 {
			if len(args) > 0 {
				if id, ok := args[0].(string); ok {
					seen[id] = struct{}{}
				}
			}
			return
		}
		for _, child := range val {
			collectRefs(child, seen)
		}
	case []interface{}:
		for _, child := range val {
			collectRefs(child, seen)
		}
	}
}

// resolveDependencies merges reference-derived edges into each node's DependsOn
func (g *Graph) resolveDependencies() {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		deps := make(map[string]struct{})
		for _, id := range node.DependsOn {
			deps[id] = struct{}{}
		}
		for _, id := range References(node.Object) {
			deps[id] = struct{}{}
		}
		delete(deps, node.ID)

		merged := make([]string, 0, len(deps))
		for id := range deps {
			merged = append(merged, id)
		}
		sort.Strings(merged)
		if len(merged) == 0 {
			merged = nil
		}
		node.DependsOn = merged
	}
}
