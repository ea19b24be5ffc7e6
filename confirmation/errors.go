package confirmation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenNotFound is returned for tokens that never existed, or whose
	// form has since been deleted.
	ErrTokenNotFound = errors.New("confirmation: token not found")
	// ErrTokenExpired matches TokenExpiredError via errors.Is.
	ErrTokenExpired = errors.New("confirmation: token expired")
	// ErrAlreadyConfirmed matches AlreadyConfirmedError via errors.Is.
	ErrAlreadyConfirmed = errors.New("confirmation: already confirmed")
	ErrForbidden        = errors.New("confirmation: forbidden")
)

// TokenExpiredError reports an expired confirmation link. The link was real,
// so callers can distinguish it from an unknown token and offer a renewal.
type TokenExpiredError struct {
	ExpiredAt time.Time
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("confirmation: token expired at %s", e.ExpiredAt.Format(time.RFC3339))
}

func (e *TokenExpiredError) Is(target error) bool {
	return target == ErrTokenExpired
}

// AlreadyConfirmedError reports a replayed confirmation link: the form was
// accepted earlier and the acceptance is not repeatable.
type AlreadyConfirmedError struct {
	ConfirmedAt time.Time
}

func (e *AlreadyConfirmedError) Error() string {
	return fmt.Sprintf("confirmation: form already confirmed at %s", e.ConfirmedAt.Format(time.RFC3339))
}

func (e *AlreadyConfirmedError) Is(target error) bool {
	return target == ErrAlreadyConfirmed
}
