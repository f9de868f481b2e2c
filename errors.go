package tmrequest

import (
	"errors"
	"fmt"
)

// Sentinel errors for tmrequest operations.
var (
	// ErrDirectory is returned when the user or userset directory fails.
	ErrDirectory = errors.New("tmrequest: directory error")

	// ErrRoleStore is returned when reading or writing role assignments fails.
	ErrRoleStore = errors.New("tmrequest: role store error")

	// ErrSettings is returned when the settings provider fails.
	ErrSettings = errors.New("tmrequest: settings error")

	// ErrUserNotFound is returned by a Directory when the user does not exist.
	ErrUserNotFound = errors.New("tmrequest: user not found")

	// ErrNotTrainingManager is returned when a user lacks the training manager role.
	ErrNotTrainingManager = errors.New("tmrequest: not a training manager")

	// ErrNoUserID is returned when user ID is not found in context.
	ErrNoUserID = errors.New("tmrequest: no user ID in context")

	// ErrLocked is returned when another operation holds the user's lock.
	ErrLocked = errors.New("tmrequest: user is locked")

	// ErrNotification is returned when a notification cannot be delivered.
	ErrNotification = errors.New("tmrequest: notification failed")

	// ErrInvalidClassification is returned when parsing an unknown classification name.
	ErrInvalidClassification = errors.New("tmrequest: invalid classification")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err       error  // Underlying sentinel error
	Message   string // Additional context
	Cause     error  // Infrastructure error that triggered it (if any)
	UserID    string // User involved (if applicable)
	RoleID    string // Role involved (if applicable)
	ContextID string // Context involved (if applicable)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the sentinel and the cause for errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithCause attaches the underlying infrastructure error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithRole adds role information to the error.
func (e *Error) WithRole(roleID string) *Error {
	e.RoleID = roleID
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(contextID string) *Error {
	e.ContextID = contextID
	return e
}

// IsNotTrainingManager checks if an error is an authorization error.
func IsNotTrainingManager(err error) bool {
	return errors.Is(err, ErrNotTrainingManager)
}

// IsLocked checks if an error is due to a concurrent operation on the same user.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsUserNotFound checks if an error is due to a missing user.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsInfrastructure reports whether err came from a collaborator rather than
// from the training manager rules themselves.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrDirectory) || errors.Is(err, ErrRoleStore) || errors.Is(err, ErrSettings)
}

func directoryError(cause error, userID, message string) *Error {
	return NewError(ErrDirectory, message).WithCause(cause).WithUser(userID)
}

func roleStoreError(cause error, userID, roleID, message string) *Error {
	return NewError(ErrRoleStore, message).WithCause(cause).WithUser(userID).WithRole(roleID)
}

func settingsError(cause error) *Error {
	return NewError(ErrSettings, "reading settings").WithCause(cause)
}
