package usecase

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorCode classifies the errors Handle returns to its caller.
type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error is a classified conversation failure. Reason is a short machine
// readable tag such as "empty_user_id".
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf reports the ErrorCode carried anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ue *Error
	if errors.As(err, &ue) && ue != nil {
		return ue.Code, true
	}
	return "", false
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
