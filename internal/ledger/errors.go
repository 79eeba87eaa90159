package ledger

import "fmt"

// ValidationError describes rejected input. It is returned to the caller
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
