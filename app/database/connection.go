package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
)

// ErrConstraintViolation reports an insert that would break a uniqueness
// invariant (duplicate group external id or advert fullname). It indicates a
// logic error in the caller, not a transient condition.
var ErrConstraintViolation = errors.New("constraint violation")

type DB struct {
	*sql.DB
}

// NewConnection opens (and if necessary creates) the SQLite database at path.
func NewConnection(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The pipeline is single-writer; one connection avoids SQLITE_BUSY from
	// the ops API read path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: db}, nil
}

// isConstraintErr reports whether err is a SQLite constraint failure.
func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		// Extended result codes keep the base code in the low byte.
		return se.Code()&0xff == 19 // SQLITE_CONSTRAINT
	}
	return false
}
