package store

import "errors"

var (
	ErrValidation        = errors.New("invalid reservation request")
	ErrConflict          = errors.New("queue number contention")
	ErrNotFound          = errors.New("reservation not found")
	ErrInvalidTransition = errors.New("status does not allow this action")
	ErrSessionNotFound   = errors.New("session not found")
)
