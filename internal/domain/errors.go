package domain

import "errors"

var (
	// ErrQuestionNotFound indicates a submitted question ID is unknown to the catalog.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSessionNotFound is returned when a session has no server-side state.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound indicates the user is unknown to the points ledger.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotVerifiable is returned when verification is requested for an
	// annulled question; the engine fails closed instead of scoring it.
	ErrNotVerifiable = errors.New("question is not verifiable")
	// ErrCatalogLoad indicates the question set itself could not be
	// loaded. Unlike a sync push failure this is fatal to the session.
	ErrCatalogLoad = errors.New("question set load failed")
	// ErrInvalidOption indicates an option index outside the question's range.
	ErrInvalidOption = errors.New("option index out of range")
)
