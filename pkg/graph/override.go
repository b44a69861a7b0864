package graph

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// RawOverride patches a node's underlying structural representation when
// the high-level builders expose no field for a provider capability.
type RawOverride struct {
	// Target is the ID of the node to patch
	Target string `json:"target"`

	// Path is a dot-separated path into the node's Object,
	// e.g. "Properties.ServerlessV2ScalingConfiguration". Every segment
	// except the last must already exist.
	Path string `json:"path"`

	// Patch holds literal key/value pairs merged at Path
	Patch map[string]interface{} `json:"patch"`
}

// Fields splits Path into its segments
func (o RawOverride) Fields() []string {
	if o.Path == "" {
		return nil
	}
	return strings.Split(o.Path, ".")
}

// AddOverride records an override. Overrides are applied in the order they
// were added, once, during Finalize. A second override for the same target
// and path is rejected.
func (g *Graph) AddOverride(o RawOverride) error {
	if g.finalized {
		return fmt.Errorf("graph %s is finalized", g.Metadata.Name)
	}

	fields := o.Fields()
	if len(fields) == 0 {
		return &ValidationError{Field: o.Target, Message: "override path is required"}
	}
	for _, f := range fields {
		if f == "" {
			return &ValidationError{Field: o.Target, Message: fmt.Sprintf("override path %q has an empty segment", o.Path)}
		}
	}
	if len(o.Patch) == 0 {
		return &ValidationError{Field: o.Target, Message: "override patch is empty"}
	}
	if err := checkJSONValue(o.Target, o.Patch); err != nil {
		return err
	}

	for _, existing := range g.Overrides {
		if existing.Target == o.Target && existing.Path == o.Path {
			return &ValidationError{
				Field:   o.Target,
				Message: fmt.Sprintf("override for path %q already recorded", o.Path),
			}
		}
	}

	g.Overrides = append(g.Overrides, RawOverride{
		Target: o.Target,
		Path:   o.Path,
		Patch:  runtime.DeepCopyJSON(o.Patch),
	})
	return nil
}

// applyOverrides applies all recorded overrides in order
func (g *Graph) applyOverrides() error {
	for _, o := range g.Overrides {
		if err := g.applyOverride(o); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) applyOverride(o RawOverride) error {
	node, found := g.Node(o.Target)
	if !found {
		return &OverrideTargetMissingError{Target: o.Target, Path: o.Path}
	}

	fields := o.Fields()
	if parent := fields[:len(fields)-1]; len(parent) > 0 {
		v, found, err := unstructured.NestedFieldNoCopy(node.Object, parent...)
		if err != nil || !found {
			return &OverrideTargetMissingError{Target: o.Target, Path: o.Path}
		}
		if _, ok := v.(map[string]interface{}); !ok {
			return &OverrideTargetMissingError{Target: o.Target, Path: o.Path}
		}
	}

	patch := runtime.DeepCopyJSON(o.Patch)

	// Merge into an existing map so builder-set keys survive
	existing, found, _ := unstructured.NestedFieldNoCopy(node.Object, fields...)
	if m, ok := existing.(map[string]interface{}); found && ok {
		for k, v := range patch {
			m[k] = v
		}
		return nil
	}

	if err := unstructured.SetNestedField(node.Object, patch, fields...); err != nil {
		return fmt.Errorf("failed to apply override to %s: %w", o.Target, err)
	}
	return nil
}

// checkJSONValue rejects values that cannot be deep-copied as JSON.
// Numbers must be int64 or float64.
func checkJSONValue(field string, v interface{}) error {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return nil
	case map[string]interface{}:
		for k, child := range val {
			if err := checkJSONValue(field+"."+k, child); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		for i, child := range val {
			if err := checkJSONValue(fmt.Sprintf("%s[%d]", field, i), child); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("unsupported value type %T", v)}
	}
}
