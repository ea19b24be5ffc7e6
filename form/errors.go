package form

import "errors"

var (
	// ErrNotFound is returned when no application form exists for the identifier.
	ErrNotFound = errors.New("form: not found")
	// ErrForbidden signals the actor lacks the capability for the operation.
	ErrForbidden = errors.New("form: forbidden")
	// ErrValidation signals malformed input, such as an empty change set or
	// a missing status comment.
	ErrValidation = errors.New("form: validation failed")
	// ErrNoPendingChanges is returned when approve/reject runs against a form
	// with no outstanding proposal.
	ErrNoPendingChanges = errors.New("form: no pending changes")
	// ErrClientHasForm signals the client already owns an application form.
	ErrClientHasForm = errors.New("form: client already has an application form")
)
