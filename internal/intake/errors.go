package intake

import (
	"fmt"
	"strings"
)

// ValidationError lists the required fields a submission left blank.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intake: missing required fields: %s", strings.Join(e.Missing, ", "))
}

// PersistenceError is returned when a valid submission could not be stored.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("intake: store lead: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
