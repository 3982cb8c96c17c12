// Package fault defines the typed errors surfaced by the conversion pipeline.
// Every failure a caller sees carries a machine-readable Kind and a
// human-readable message; lower-level causes stay reachable through Unwrap.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a conversion failure.
type Kind string

const (
	NullOrEmptyInput         Kind = "NullOrEmptyInput"
	InvalidMessage           Kind = "InvalidMessage"
	MissingSeparators        Kind = "MissingSeparators"
	DuplicateSeparators      Kind = "DuplicateSeparators"
	InvalidEscapeCharacter   Kind = "InvalidEscapeCharacter"
	InvalidHexadecimalNumber Kind = "InvalidHexadecimalNumber"
	InputParsingError        Kind = "InputParsingError"
	PropertyNotFound         Kind = "PropertyNotFound"
	JSONParsingError         Kind = "JsonParsingError"
	JSONMergingError         Kind = "JsonMergingError"
	TimeoutError             Kind = "TimeoutError"
	Cancelled                Kind = "Cancelled"
	TemplateNotFound         Kind = "TemplateNotFound"
	TemplateRenderError      Kind = "TemplateRenderError"
	UnsupportedDataType      Kind = "UnsupportedDataType"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it as the cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or the
// empty Kind when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Has reports whether any *Error in err's chain has the given kind.
func Has(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// HTTPStatus maps a kind to the status code an API should answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case NullOrEmptyInput, InvalidMessage, MissingSeparators, DuplicateSeparators,
		InvalidEscapeCharacter, InvalidHexadecimalNumber, InputParsingError, UnsupportedDataType:
		return http.StatusBadRequest
	case TemplateNotFound:
		return http.StatusNotFound
	case PropertyNotFound, JSONParsingError, JSONMergingError, TemplateRenderError:
		return http.StatusUnprocessableEntity
	case TimeoutError:
		return http.StatusGatewayTimeout
	case Cancelled:
		// nginx-style "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// IssueCode maps a kind to a FHIR OperationOutcome issue type code.
func IssueCode(kind Kind) string {
	switch kind {
	case NullOrEmptyInput:
		return "required"
	case InvalidMessage, MissingSeparators, DuplicateSeparators, InvalidEscapeCharacter,
		InvalidHexadecimalNumber, InputParsingError, JSONParsingError:
		return "structure"
	case TemplateNotFound:
		return "not-found"
	case UnsupportedDataType:
		return "not-supported"
	case TimeoutError:
		return "timeout"
	case PropertyNotFound, JSONMergingError, TemplateRenderError, Cancelled:
		return "processing"
	default:
		return "exception"
	}
}
