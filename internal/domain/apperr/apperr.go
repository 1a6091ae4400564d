// Package apperr defines the error classes shared by the pricing domain.
//
// Every domain failure unwraps to exactly one of ErrNotFound, ErrBadRequest or
// ErrInternal, so transport layers can map failures with errors.Is without
// knowing the concrete error types.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest marks caller input that cannot be processed.
	ErrBadRequest = errors.New("bad request")
	// ErrInternal marks a data integrity or configuration problem.
	ErrInternal = errors.New("internal error")
)

// Error is a message tagged with an error class.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// NotFoundf formats a message classified as ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// BadRequestf formats a message classified as ErrBadRequest.
func BadRequestf(format string, args ...any) error {
	return &Error{Kind: ErrBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// Internalf formats a message classified as ErrInternal.
func Internalf(format string, args ...any) error {
	return &Error{Kind: ErrInternal, Msg: fmt.Sprintf(format, args...)}
}

// Message returns the caller-facing text of err: the text of the outermost
// error in the chain that directly wraps a class, without the context added
// by wrapping layers. Unclassified errors are returned as is.
func Message(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch errors.Unwrap(e) {
		case ErrNotFound, ErrBadRequest, ErrInternal:
			return e.Error()
		}
	}
	return err.Error()
}
