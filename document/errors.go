package document

import (
	"errors"
	"fmt"
)

// Lifecycle misuse errors. Caller-recoverable: they indicate the
// operation was invoked against a document in the wrong attachment
// state, not that the document itself is corrupt.
var (
	// ErrDocumentNotAttached is returned when an operation that requires
	// an attached document (detach, sync) finds it detached.
	ErrDocumentNotAttached = errors.New("document is not attached")

	// ErrDocumentNotDetached is returned when attach is attempted on a
	// document that is already attached.
	ErrDocumentNotDetached = errors.New("document is not detached")

	// ErrDocumentRemoved is returned when an operation targets a
	// document the server has removed.
	ErrDocumentRemoved = errors.New("document has been removed")
)

// SchemaValidationError aborts an update closure whose resulting root
// fails the document's schema rules; the live root is left unchanged.
type SchemaValidationError struct {
	Message string
}

// Error implements error.
func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %s", e.Message)
}
