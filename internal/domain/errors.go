package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrIterationLimit      = errors.New("iteration limit reached")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConfigMissing       = errors.New("provider API key is missing")
)
