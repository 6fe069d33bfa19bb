package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindOutOfStock      Kind = "OUT_OF_STOCK"
	KindDuplicateLoan   Kind = "DUPLICATE_LOAN"
	KindAlreadyReturned Kind = "ALREADY_RETURNED"
	KindForbidden       Kind = "FORBIDDEN"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindConflict        Kind = "CONFLICT"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindInternal        Kind = "INTERNAL"
)

// Error is an expected, user-facing failure. Anything that is not an *Error
// is treated as an internal failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func OutOfStock(msg string) *Error      { return New(KindOutOfStock, msg) }
func DuplicateLoan(msg string) *Error   { return New(KindDuplicateLoan, msg) }
func AlreadyReturned(msg string) *Error { return New(KindAlreadyReturned, msg) }
func Forbidden(msg string) *Error       { return New(KindForbidden, msg) }
func Unauthorized(msg string) *Error    { return New(KindUnauthorized, msg) }
func Invalid(msg string) *Error         { return New(KindInvalidArgument, msg) }
func Conflict(msg string) *Error        { return New(KindConflict, msg) }
func Unavailable(msg string) *Error     { return New(KindUnavailable, msg) }

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindOutOfStock, KindDuplicateLoan, KindAlreadyReturned, KindInvalidArgument:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body renders err as the {"error", "code"} payload. Internal errors are not
// echoed to the caller.
func Body(err error) gin.H {
	var e *Error
	if errors.As(err, &e) {
		return gin.H{"error": e.Message, "code": e.Kind}
	}
	return gin.H{"error": "internal error", "code": KindInternal}
}

// Abort writes err to the response with its mapped status.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(HTTPStatus(err), Body(err))
}
