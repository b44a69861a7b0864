package graph

import "fmt"

// ValidationError indicates an input or graph invariant was violated
type ValidationError struct {
	// Field is the path of the offending field, if known
	Field string

	// Message describes the violation
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// OverrideTargetMissingError indicates a RawOverride path does not resolve
type OverrideTargetMissingError struct {
	Target string
	Path   string
}

func (e *OverrideTargetMissingError) Error() string {
	return fmt.Sprintf("override target missing: %s at path %q", e.Target, e.Path)
}

// WiringError indicates a dangling reference, a dependency cycle, or a port
// mismatch between a permission edge and the entity it reaches
type WiringError struct {
	Source  string
	Target  string
	Message string
}

func (e *WiringError) Error() string {
	return fmt.Sprintf("wiring %s -> %s: %s", e.Source, e.Target, e.Message)
}
