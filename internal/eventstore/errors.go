package eventstore

import (
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.StorageError("could not open event store database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = errors.StorageError("failed to initialize event store schema").Build()

	ErrEventAppendFailed = errors.StorageError("failed to append event to store").Build()

	ErrEventQueryFailed = errors.StorageError("failed to query events from store").Build()
)

func wrap(sentinel error, cause error) error {
	return errors.WrapError(cause, errors.CategoryStorage, errors.MessageOf(sentinel)).Build()
}
