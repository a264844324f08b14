package entities

import "errors"

// Error taxonomy shared by the store, the setup dialog and the reconciliation worker.
// Callers match with errors.Is; implementations wrap these with context.
var (
	// ErrStorageCorruption means the backing medium could not be parsed into well-formed records
	ErrStorageCorruption = errors.New("property storage is corrupted")

	// ErrDuplicateKey means a property with the same guild ID already exists
	ErrDuplicateKey = errors.New("guild property already exists")

	// ErrNotFound means no property exists for the guild ID
	ErrNotFound = errors.New("guild property not found")

	// ErrValidation means user supplied input was rejected (e.g. a server of the wrong game)
	ErrValidation = errors.New("validation failed")

	// ErrExternalService means a network or transport failure talking to a collaborator
	ErrExternalService = errors.New("external service failure")

	// ErrForbidden means the platform refused the action for lack of permissions
	ErrForbidden = errors.New("forbidden by platform")
)
