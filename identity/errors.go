package identity

import "errors"

var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("identity: not found")
	// ErrAlreadyExists is returned on a unique-constraint violation for a
	// caller-visible key (uuid, auth key, client id, group name).
	ErrAlreadyExists = errors.New("identity: already exists")
)
