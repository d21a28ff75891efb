package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRosterUnavailable = errors.New("customer roster unavailable")
	ErrNoGuessedName     = errors.New("no guessed customer name on record")
)
