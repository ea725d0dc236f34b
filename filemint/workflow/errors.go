package workflow

import (
	"fmt"
)

// Error is returned by every failed run. State is the step the failure happened in and
// Checkpoint is what Resume needs to carry on from there.
type Error struct {
	State      State
	Err        error
	Checkpoint Checkpoint
}

func (e *Error) Error() string {
	if e.Checkpoint.RunID == "" {
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("run %s failed in %s: %v", e.Checkpoint.RunID, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
