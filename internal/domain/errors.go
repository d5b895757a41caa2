package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a bad instruction or bad fetched content.
// It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FetchError is a navigator failure already classified into the ErrorKind
// taxonomy.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

func Transient(msg string, err error) error {
	return &FetchError{Kind: KindTransient, Message: msg, Err: err}
}

func Permanent(msg string, err error) error {
	return &FetchError{Kind: KindPermanent, Message: msg, Err: err}
}

// KindOf classifies err. Unclassified errors are treated as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if IsValidation(err) {
		return KindValidation
	}
	return KindTransient
}
