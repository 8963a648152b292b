package errors

import (
	"encoding/json"
	nativeerrors "errors"
	"fmt"
	"go.uber.org/zap"
	"net/http"
)

// Details holds additional error details that can be viewed and logged.
type Details map[string]interface{}

// Error is the general error type for appearing errors.
type Error struct {
	// Code is the error code.
	Code Code
	// Kind is the more specific error kind.
	Kind Kind
	// Err is the original error that occurred.
	Err error
	// Message is the manually created message that can be used in order to trace the error.
	Message string
	// Details holds any error details.
	Details Details
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the original error.
func (e Error) Unwrap() error {
	return e.Err
}

// Cast casts the given error to Error. If the given one is not of type Error, an unknown one with error code
// ErrUnexpected is created and false returned
func Cast(err error) (Error, bool) {
	var e Error
	if nativeerrors.As(err, &e) {
		return e, true
	}
	e = Error{
		Code:    ErrUnexpected,
		Kind:    KindUnexpected,
		Err:     err,
		Message: "unknown operation",
		Details: make(map[string]interface{}),
	}
	return e, false
}

// Wrap wraps the given error with the given message.
func Wrap(err error, message string, details Details) error {
	e, ok := Cast(err)
	// Check whether to append to message or replace.
	var errMsg string
	if ok {
		errMsg = fmt.Sprintf("%s: %s", message, e.Message)
	} else {
		errMsg = message
	}
	// Add details.
	if details != nil && e.Details == nil {
		e.Details = make(Details)
	}
	for k, v := range details {
		// Keep a detail with the same key under a prefixed one.
		if originalV, ok := e.Details[k]; ok {
			e.Details[fmt.Sprintf("_%s", k)] = originalV
		}
		e.Details[k] = v
	}
	return Error{
		Code:    e.Code,
		Kind:    e.Kind,
		Err:     e.Err,
		Message: errMsg,
		Details: e.Details,
	}
}

// FromErr creates an Error with the given details.
func FromErr(message string, code Code, err error, details Details) error {
	return Error{
		Code:    code,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// detailsAsJSON encodes the Details of the given Error as JSON string.
func detailsAsJSON(logger *zap.Logger, err error) []byte {
	e, _ := Cast(err)
	if e.Details == nil {
		return nil
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		if logger != nil {
			Log(logger, Error{
				Code:    ErrInternal,
				Kind:    KindEncodeJSON,
				Message: "marshal error details",
				Err:     err,
				Details: Details{
					"toMarshal": fmt.Sprintf("%+v", e.Details),
				},
			})
		}
		return nil
	}
	return b
}

// Log logs the given error with its details. If the error is ErrFatal, the
// error will be logged as fatal.
func Log(logger *zap.Logger, err error) {
	e, _ := Cast(err)
	zapFields := make([]zap.Field, 0, len(e.Details)+3)
	zapFields = append(zapFields, zap.String("err_code", string(e.Code)))
	if e.Kind != "" {
		zapFields = append(zapFields, zap.String("err_kind", string(e.Kind)))
	}
	// Add each details entry as separate field for better readability.
	for k, v := range e.Details {
		zapFields = append(zapFields, zap.String(fmt.Sprintf("err_details_v_%s", k), fmt.Sprintf("%+v", v)))
	}
	if e.Err != nil {
		zapFields = append(zapFields, zap.String("err_orig", e.Err.Error()))
	}
	logger = logger.With(zapFields...)
	switch e.Code {
	case ErrBadRequest, ErrNotFound, ErrUnauthorized, ErrForbidden, ErrTooManyRequests:
		logger.Warn(e.Error())
	case ErrFatal:
		logger.Fatal(e.Error())
	default:
		logger.Error(e.Error())
	}
}

// Prettify returns a detailed error string with error details.
func Prettify(err error) string {
	e, _ := Cast(err)
	return fmt.Sprintf("Code: %s\nKind: %s\nOriginal Error: %+v\nMessage: %s\nDetails: %s\n",
		e.Code, e.Kind, e.Err, e.Message, detailsAsJSON(nil, e))
}

// BlameUser checks if the given error was caused by the client, which is the
// case for ErrBadRequest, ErrNotFound, ErrUnauthorized, ErrForbidden and
// ErrTooManyRequests.
func BlameUser(err error) bool {
	e, ok := Cast(err)
	if !ok {
		// Unexpected.
		return false
	}
	switch e.Code {
	case ErrBadRequest,
		ErrNotFound,
		ErrUnauthorized,
		ErrForbidden,
		ErrTooManyRequests:
		return true
	}
	// Otherwise.
	return false
}

// HTTPStatus returns the HTTP status code that matches the Code of the given
// error.
func HTTPStatus(err error) int {
	e, _ := Cast(err)
	switch e.Code {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCommunication:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
