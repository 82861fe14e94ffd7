package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation error")
	ErrUnavailable        = errors.New("service unavailable")
	ErrNoCase             = errors.New("no case available")
	ErrClaimLimit         = errors.New("claim limit exceeded")
	ErrNotClaimedByCaller = errors.New("case not claimed by caller")
	ErrInvalidDisposition = errors.New("invalid disposition")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Logical reports whether err is a client/logic error that must surface to
// the caller unretried.
func Logical(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound, ErrConflict, ErrValidation,
		ErrNoCase, ErrClaimLimit, ErrNotClaimedByCaller, ErrInvalidDisposition,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
