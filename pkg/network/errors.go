package network

import "fmt"

// LookupError indicates a referenced external resource was not found
type LookupError struct {
	// Key identifies the lookup
	Key string

	// Reason describes why the lookup failed
	Reason string

	// Err is the underlying cause, if any
	Err error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup %s failed: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("lookup %s failed: %s", e.Key, e.Reason)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
