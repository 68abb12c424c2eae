package persistence

import "errors"

var (
	// ErrDefinitionNotFound indicates no definition exists for the given ID.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionExists indicates a definition with the same ID was
	// already registered; definitions are immutable once published.
	ErrDefinitionExists = errors.New("workflow definition already exists")

	// ErrExecutionNotFound indicates no execution exists for the given ID.
	ErrExecutionNotFound = errors.New("execution not found")
)

func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsDefinitionExists(err error) bool {
	return errors.Is(err, ErrDefinitionExists)
}
