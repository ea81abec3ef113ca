package models

import "errors"

var (
	// ErrNotFound is returned when a record, the config or an account was never created.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a store targets an occupied key id.
	ErrAlreadyExists = errors.New("key already exists")
	// ErrAlreadyInitialized is returned by a second instantiate.
	ErrAlreadyInitialized = errors.New("config already initialized")
	// ErrInvalidMessage is returned for malformed entry messages.
	ErrInvalidMessage = errors.New("invalid message")
)
