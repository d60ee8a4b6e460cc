// Package errs defines the storage error taxonomy. Engine and storage
// failures returned by the pool, the migration engine and the repository
// match exactly one of the sentinels below via errors.Is, and the typed
// variants carry the identifiers callers need to report the failure.
// Context cancellation and deadline errors are returned unchanged so that
// callers can still test them with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSlug       = errors.New("duplicate slug")
	ErrPoolExhausted       = errors.New("connection pool exhausted")
	ErrMigrationFailed     = errors.New("migration failed")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrIoFailure           = errors.New("storage i/o failure")
)

// NotFoundError names the entity and key that could not be found.
type NotFoundError struct {
	Entity string
	Key    string
}

func NewNotFound(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q %s", e.Entity, e.Key, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateSlugError names the slug that collided.
type DuplicateSlugError struct {
	Entity string
	Slug   string
}

func NewDuplicateSlug(entity, slug string) *DuplicateSlugError {
	return &DuplicateSlugError{Entity: entity, Slug: slug}
}

func (e *DuplicateSlugError) Error() string {
	return fmt.Sprintf("%s: %s %q already exists", ErrDuplicateSlug, e.Entity, e.Slug)
}

func (e *DuplicateSlugError) Unwrap() error { return ErrDuplicateSlug }

// PoolExhaustedError is returned when no connection became free within the
// acquire timeout.
type PoolExhaustedError struct {
	Size   int
	Waited time.Duration
}

func NewPoolExhausted(size int, waited time.Duration) *PoolExhaustedError {
	return &PoolExhaustedError{Size: size, Waited: waited}
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("%s: no connection free among %d after %v", ErrPoolExhausted, e.Size, e.Waited)
}

func (e *PoolExhaustedError) Unwrap() error { return ErrPoolExhausted }

// MigrationError reports the step that could not be applied. It is fatal:
// the process must not serve requests against a partially migrated schema.
type MigrationError struct {
	Step uint
	Name string
	Err  error
}

func NewMigrationFailed(step uint, name string, cause error) *MigrationError {
	return &MigrationError{Step: step, Name: name, Err: cause}
}

func (e *MigrationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s at step %d: %v", ErrMigrationFailed, e.Step, e.Err)
	}
	return fmt.Sprintf("%s at step %d (%s): %v", ErrMigrationFailed, e.Step, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() []error { return []error{ErrMigrationFailed, e.Err} }

// StorageError wraps an engine error that was classified as a constraint
// violation or an i/o failure.
type StorageError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{e.Kind, e.Err} }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicateSlug(err error) bool {
	return errors.Is(err, ErrDuplicateSlug)
}

func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

func IsMigrationFailed(err error) bool {
	return errors.Is(err, ErrMigrationFailed)
}

func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

func IsIoFailure(err error) bool {
	return errors.Is(err, ErrIoFailure)
}
