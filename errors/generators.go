package errors

import "fmt"

// NewResourceNotFoundError returns a new ErrNotFound error with kind
// KindResourceNotFound and the given message.
func NewResourceNotFoundError(message string, details Details) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindResourceNotFound,
		Message: message,
		Details: details,
	}
}

// NewInternalError returns an ErrInternal error with the given message and
// details.
func NewInternalError(message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Message: message,
		Details: details,
	}
}

// NewInternalErrorFromErr returns an ErrInternal error wrapping the given
// original error.
func NewInternalErrorFromErr(err error, message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewInvalidStatusError returns an ErrBadRequest error with kind
// KindInvalidStatus for status text that could not be parsed.
func NewInvalidStatusError(text string) error {
	return Error{
		Code:    ErrBadRequest,
		Kind:    KindInvalidStatus,
		Message: fmt.Sprintf("invalid status: %q", text),
		Details: Details{"status": text},
	}
}

// NewDecodeJSONError returns an ErrBadRequest error with kind KindDecodeJSON.
func NewDecodeJSONError(err error, message string) error {
	return Error{
		Code:    ErrBadRequest,
		Kind:    KindDecodeJSON,
		Err:     err,
		Message: message,
	}
}

// NewFatalError returns an ErrFatal error of the given kind. Fatal errors
// abort booting.
func NewFatalError(kind Kind, err error, message string, details Details) error {
	return Error{
		Code:    ErrFatal,
		Kind:    kind,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewDBError returns an ErrInternal error with kind KindDB for the given
// query.
func NewDBError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}
