package errs

import "errors"

// Sentinels shared by the engine, the storage layer and the HTTP handlers.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	// ErrInvalidInput marks malformed caller input (bad add-on lines,
	// unknown payment outcome).
	ErrInvalidInput = errors.New("invalid input")
)
