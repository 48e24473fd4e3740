package session

import "errors"

// Error kinds shared by the session store and the attendance recorder.
// Callers wrap them with detail using fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("session not found")
	ErrInvalidState = errors.New("invalid session state")
	ErrConflict     = errors.New("conflict")
)
