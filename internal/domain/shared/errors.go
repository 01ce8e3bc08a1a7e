// Package shared contains common domain types, errors, events, and value objects
// that are used across all progression domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Resource exhaustion
	ErrExhausted = errors.New("resource exhausted")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")

	// Concurrency errors
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "xp", "streak", "league"
	Op      string // operation that failed, e.g. "AwardXP"
	Kind    error  // base error for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// StoreError wraps a storage failure. Not-found and duplicate conditions keep
// their own kind so callers can still branch on them.
func StoreError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return WrapError(domain, op, ErrStoreUnavailable, "store operation failed", err)
}

// XP domain errors
var (
	ErrNonPositiveAward = NewDomainError("xp", "AwardXP", ErrInvalidInput, "xp amount must be positive")
	ErrUnknownXPType    = NewDomainError("xp", "AwardXP", ErrInvalidInput, "unknown transaction type")
)

// Streak domain errors
var (
	ErrNoFreezeAvailable  = NewDomainError("streak", "UseFreeze", ErrExhausted, "no streak freeze available")
	ErrInvalidFreezeGrant = NewDomainError("streak", "GrantFreezes", ErrInvalidInput, "freeze grant must be positive")
)

// Rating domain errors
var (
	ErrInvalidTotalPoints = NewDomainError("rating", "UpdateRating", ErrInvalidInput, "total points must be positive")
)

// League domain errors
var (
	ErrNoActiveSeason    = NewDomainError("league", "GetActiveSeason", ErrNotFound, "no active season")
	ErrNoDivisions       = NewDomainError("league", "ResolveDivision", ErrInvalidState, "division catalog is empty")
	ErrSeasonNotFound    = NewDomainError("league", "GetSeason", ErrNotFound, "season not found")
	ErrParticipationGone = NewDomainError("league", "GetParticipation", ErrNotFound, "participation not found")
	ErrSeasonClosed      = NewDomainError("league", "UpdateParticipation", ErrInvalidState, "season is frozen or inactive")
)

// Quest domain errors
var (
	ErrQuestNotFound    = NewDomainError("quest", "GetQuest", ErrNotFound, "quest not found")
	ErrInvalidIncrement = NewDomainError("quest", "UpdateProgress", ErrInvalidInput, "increment must be positive")
)

// Achievement domain errors
var (
	ErrAchievementNotFound      = NewDomainError("achievement", "Get", ErrNotFound, "achievement not found")
	ErrAchievementAlreadyEarned = NewDomainError("achievement", "Award", ErrAlreadyExists, "achievement already earned")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNoFreezeAvailable checks if a freeze was requested with an empty balance.
func IsNoFreezeAvailable(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// IsStoreUnavailable checks if the error came from the ledger store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return IsStoreUnavailable(err) || errors.Is(err, ErrLockNotAcquired)
}
