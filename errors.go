package govern

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by stores when a conditional update matched no rows.
var ErrConflict = errors.New("conditional update lost: record not in expected state")

// ErrNotFound is returned by stores for missing records; the engine wraps it in NotFoundError.
var ErrNotFound = errors.New("record not found")

// NotFoundError reports a missing user, decision, policy or evidence pack.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorityError reports missing role, entity or platform authority.
// Reason is a single sentence naming what is missing.
type AuthorityError struct {
	Reason   string
	EntityID *int64
	Required []string
}

func (e *AuthorityError) Error() string {
	return e.Reason
}

// InvalidStateError reports a decision that is no longer actionable.
type InvalidStateError struct {
	DecisionID string
	Status     DecisionStatus
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("decision %s is no longer actionable: a concurrent transition won", e.DecisionID)
	}
	return fmt.Sprintf("decision %s is %s, only PENDING decisions can be acted on", e.DecisionID, e.Status)
}

// IntegrityError reports that evidence could not be sealed, so the transition was not committed.
type IntegrityError struct {
	DecisionID string
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("evidence for decision %s could not be sealed, transition not committed: %v", e.DecisionID, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target) || errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsAuthority(err error) bool {
	var target *AuthorityError
	return errors.As(err, &target)
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func IsIntegrity(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}
