package errs

import (
	"errors"
	"io/fs"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classify maps an engine error onto the taxonomy. Errors that already
// belong to the taxonomy and context errors pass through unchanged. A busy
// or locked database is an i/o failure; the caller may retry it.
func Classify(op string, err error) error {
	if err == nil || isClassified(err) {
		return err
	}

	if errors.Is(err, fs.ErrPermission) {
		return &StorageError{Kind: ErrIoFailure, Op: op, Err: err}
	}

	code, ok := sqliteCode(err)
	if !ok {
		return err
	}

	switch code & 0xff {
	case int(sqlite3.SQLITE_CONSTRAINT):
		return &StorageError{Kind: ErrConstraintViolation, Op: op, Err: err}
	case int(sqlite3.SQLITE_IOERR),
		int(sqlite3.SQLITE_FULL),
		int(sqlite3.SQLITE_CANTOPEN),
		int(sqlite3.SQLITE_CORRUPT),
		int(sqlite3.SQLITE_NOTADB),
		int(sqlite3.SQLITE_READONLY),
		int(sqlite3.SQLITE_PERM),
		int(sqlite3.SQLITE_BUSY),
		int(sqlite3.SQLITE_LOCKED):
		return &StorageError{Kind: ErrIoFailure, Op: op, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure
// on the given "table.column".
func IsUniqueViolation(err error, column string) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	if code != int(sqlite3.SQLITE_CONSTRAINT_UNIQUE) && code != int(sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return false
	}
	return column == "" || strings.Contains(err.Error(), column)
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code(), true
}

func isClassified(err error) bool {
	for _, kind := range []error{
		ErrNotFound,
		ErrDuplicateSlug,
		ErrPoolExhausted,
		ErrMigrationFailed,
		ErrConstraintViolation,
		ErrIoFailure,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
