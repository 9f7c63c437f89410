package motion

import "errors"

var (
	// ErrAlreadyMoving rejects a move while another command or device move is in progress.
	ErrAlreadyMoving = errors.New("a move is already in progress")
	// ErrCommitFailed wraps a failed energy write to the primary actuator.
	ErrCommitFailed = errors.New("energy commit failed")
)
