package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Every operation in the chat core fails with one
// of these three sentinels (wrapped with context), so callers can branch
// with errors.Is without inspecting message text.
var (
	// ErrNotFound covers absent entities and tenant mismatches. A
	// tenant mismatch is reported as not-found, never as forbidden, so
	// existence never leaks across tenants.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an illegal domain transition: archiving an
	// archived channel, the owner leaving, promoting an admin again.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation marks a missing or invalid field at creation time,
	// detected before any persistence attempt.
	ErrValidation = errors.New("validation failed")
)

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
