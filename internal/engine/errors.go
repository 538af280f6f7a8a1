package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. Validation kinds are produced before any
// connection is opened; the rest carry backend context.
type Kind string

const (
	KindInvalidPayload        Kind = "INVALID_PAYLOAD"
	KindFileNotFound          Kind = "FILE_NOT_FOUND"
	KindUnsupportedConnection Kind = "UNSUPPORTED_CONNECTION_TYPE"
	KindEmptyQueryForFile     Kind = "EMPTY_QUERY_FOR_FILE"
	KindSQLQueryRequired      Kind = "SQL_QUERY_REQUIRED"
	KindMongoQueryRequired    Kind = "MONGO_QUERY_REQUIRED"
	KindCypherQueryRequired   Kind = "CYPHER_QUERY_REQUIRED"
	KindAuthRequired          Kind = "AUTH_REQUIRED"
	KindBackendExecution      Kind = "BACKEND_EXECUTION_ERROR"
	KindConnectivity          Kind = "CONNECTIVITY_ERROR"
	KindImportFailure         Kind = "IMPORT_FAILURE"
)

// Error is the engine's error type. Backend is the tag of the executor that
// produced it, empty for validation failures.
type Error struct {
	Kind    Kind
	Backend string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Backend, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errf(kind Kind, backend, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// KindOf extracts the engine error kind, or empty for foreign errors.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return ""
}

// BackendOf extracts the backend tag from an engine error, if any.
func BackendOf(err error) string {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Backend
	}
	return ""
}
