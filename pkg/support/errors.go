package support

import (
	"errors"
	"fmt"

	"github.com/mahaj/dupahar-support/pkg/model"
)

// Sentinels for errors.Is. Each concrete error type below matches exactly
// one of them.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnauthorized       = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrConcurrentConflict = errors.New("concurrent modification")
)

// ValidationError reports malformed input: bad enum values, empty
// participant lists, blank content.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError names the current state and the attempted action.
type InvalidTransitionError struct {
	ChannelID string
	From      model.ChannelStatus
	Action    Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("channel %s: cannot %s from %s", e.ChannelID, e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type AuthorizationError struct {
	ActorID   string
	Role      model.Role
	ChannelID string
	Action    Action
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s (%s) may not %s channel %s", e.ActorID, e.Role, e.Action, e.ChannelID)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConcurrencyConflictError is returned when an optimistic save loses the
// race. Callers re-read and retry the whole operation.
type ConcurrencyConflictError struct {
	ChannelID       string
	ExpectedVersion int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("channel %s changed concurrently (expected version %d)", e.ChannelID, e.ExpectedVersion)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrentConflict }

// Store backends return these so they need no knowledge of the typed
// errors above; the service translates them.
var (
	ErrStoreNotFound = errors.New("store: not found")
	ErrStoreConflict = errors.New("store: version conflict")
	ErrStoreArchived = errors.New("store: channel archived")
)

// ErrorCode maps an error onto the stable code clients switch on.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentConflict):
		return "conflict"
	}
	return "internal_error"
}
