// Package apperr defines the error taxonomy shared by the cart and order
// services and the HTTP layer. Every error carries a stable machine code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

const (
	CodeValidation          = "VALIDATION_FAILED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeCartNotFound        = "CART_NOT_FOUND"
	CodeCartLineNotFound    = "CART_LINE_NOT_FOUND"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeDifferentRestaurant = "DIFFERENT_RESTAURANT_CART_EXISTS"
	CodeEmptyCart           = "EMPTY_CART"
	CodeCartConflict        = "CART_CONFLICT"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeTransitionConflict  = "TRANSITION_CONFLICT"
	CodeAlreadyPaid         = "ALREADY_PAID"
	CodeOrderLocked         = "ORDER_LOCKED"
	CodeUpstream            = "UPSTREAM_UNAVAILABLE"
	CodeCatalogEmpty        = "CATALOG_EMPTY"
	CodeInternal            = "INTERNAL"
)

// Error is the single error type crossing service boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithMessage returns a copy of e with a caller-facing message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Sentinels for errors.Is matching.
var (
	ErrDifferentRestaurant = &Error{Kind: KindConflict, Code: CodeDifferentRestaurant}
	ErrEmptyCart           = &Error{Kind: KindValidation, Code: CodeEmptyCart}
	ErrCartConflict        = &Error{Kind: KindConflict, Code: CodeCartConflict}
	ErrCartNotFound        = &Error{Kind: KindNotFound, Code: CodeCartNotFound}
	ErrCartLineNotFound    = &Error{Kind: KindNotFound, Code: CodeCartLineNotFound}
	ErrOrderNotFound       = &Error{Kind: KindNotFound, Code: CodeOrderNotFound}
	ErrIllegalTransition   = &Error{Kind: KindConflict, Code: CodeIllegalTransition}
	ErrTransitionConflict  = &Error{Kind: KindConflict, Code: CodeTransitionConflict}
	ErrAlreadyPaid         = &Error{Kind: KindConflict, Code: CodeAlreadyPaid}
	ErrOrderLocked         = &Error{Kind: KindConflict, Code: CodeOrderLocked}
)

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(err error, kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, CodeValidation, msg) }

func Forbidden(msg string) *Error { return New(KindAuthorization, CodeForbidden, msg) }

func Upstream(err error, msg string) *Error { return Wrap(err, KindUpstream, CodeUpstream, msg) }

func Internal(err error, msg string) *Error { return Wrap(err, KindInternal, CodeInternal, msg) }

// KindOf returns the kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of err, CodeInternal for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
