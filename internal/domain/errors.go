package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSigningFailed     = errors.New("signing failed")
	ErrContextDone       = errors.New("context cancelled")
	ErrLockHeld          = errors.New("lock already held")
)

// RuleKind classifies why a protocol transition was rejected.
type RuleKind string

const (
	RuleAuthorization RuleKind = "authorization"
	RuleTemporal      RuleKind = "temporal"
	RuleValue         RuleKind = "value"
	RuleState         RuleKind = "state"
)

// RuleError is returned when a guard rejects a protocol operation. The
// agreement state is untouched whenever a RuleError is returned.
type RuleError struct {
	Kind   RuleKind
	Reason string
}

func (e *RuleError) Error() string {
	return string(e.Kind) + ": " + e.Reason
}

// Unauthorized reports a caller acting outside their role.
func Unauthorized(reason string) *RuleError {
	return &RuleError{Kind: RuleAuthorization, Reason: reason}
}

// Untimely reports an operation attempted outside its time window.
func Untimely(reason string) *RuleError {
	return &RuleError{Kind: RuleTemporal, Reason: reason}
}

// InvalidValue reports an amount or parameter outside the allowed range.
func InvalidValue(reason string) *RuleError {
	return &RuleError{Kind: RuleValue, Reason: reason}
}

// InvalidState reports an operation not permitted in the current phase.
func InvalidState(reason string) *RuleError {
	return &RuleError{Kind: RuleState, Reason: reason}
}

// IsRule reports whether err is a RuleError of the given kind.
func IsRule(err error, kind RuleKind) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
