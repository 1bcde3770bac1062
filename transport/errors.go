package transport

import "fmt"

// UnauthenticatedError reports that the server rejected a request's
// credentials. Reason carries the server's message verbatim ("no token",
// "expired token", ...) so the auth-token injector can distinguish why
// the refresh is happening.
type UnauthenticatedError struct {
	Reason string
	Method string
}

// Error implements error.
func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("unauthenticated: %s (%s)", e.Reason, e.Method)
}

// PermissionDeniedError reports that the caller is authenticated but not
// allowed to perform the request. Fatal for the current session.
type PermissionDeniedError struct {
	Method string
}

// Error implements error.
func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied (%s)", e.Method)
}

// FailedPreconditionError reports a request the server can never accept
// in the document's current state. The sync loop terminates on it; the
// document stays attached but stale until user action.
type FailedPreconditionError struct {
	Method string
	Detail string
}

// Error implements error.
func (e *FailedPreconditionError) Error() string {
	return fmt.Sprintf("failed precondition (%s): %s", e.Method, e.Detail)
}
