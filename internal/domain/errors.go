package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotConnected = errors.New("channel not connected")
	ErrUnresolvable = errors.New("counterparty cannot be resolved")
)
