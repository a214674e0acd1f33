// Package repository holds the MySQL data access layer.  Handlers map the
// sentinel errors below to HTTP statuses with errors.Is; everything else is
// an unexpected database failure.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested row does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller attempts an operation on a
	// resource they do not own.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict signals that the operation cannot proceed because of the
	// current state of the row, e.g. deleting a facility that still has
	// upcoming bookings or joining a full match.
	ErrConflict = errors.New("conflict")
	// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
	ErrEmailExists = errors.New("email already exists")
	// ErrOverlap is returned when a booking would overlap an active one.
	ErrOverlap = errors.New("time range overlaps an existing booking")
	// ErrNoChange is returned by updates that were given nothing to change.
	ErrNoChange = errors.New("nothing to update")
)

// wrap annotates err with op and translates sql.ErrNoRows to ErrNotFound.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// affected converts a zero RowsAffected into ErrNotFound.
func affected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
