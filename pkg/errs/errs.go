// Package errs defines the typed error kinds the orchestrators use to
// decide retry-vs-surface policy (see spec §7).
package errs

import (
	"errors"
	"fmt"
)

// ConfigError wraps an invalid configuration or flag combination. Fatal,
// exit before any work starts.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func Config(msg string, err error) error {
	return &ConfigError{Msg: msg, Err: err}
}

// DBError wraps a ClickHouse request failure. Fatal to the current command.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string { return fmt.Sprintf("db error during %s: %v", e.Op, e.Err) }
func (e *DBError) Unwrap() error { return e.Err }

func DB(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Op: op, Err: err}
}

// StorageError wraps an object-storage failure surfaced after the retry
// budget inside the pipeline runtime is exhausted.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s (key=%s): %v", e.Op, e.Key, e.Err)
}
func (e *StorageError) Unwrap() error { return e.Err }

func Storage(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// ValidationError is never retried: checksum mismatch, metadata-mtime
// change, a required table missing from a backup.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation error: %s", e.Msg) }

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConcurrencyAbort signals the OCC mtime mismatch during backup. Per-table
// non-fatal: the caller skips the table and continues.
type ConcurrencyAbort struct {
	Database, Table string
}

func (e *ConcurrencyAbort) Error() string {
	return fmt.Sprintf("concurrent schema change detected for %s.%s, skipping table", e.Database, e.Table)
}

func Concurrency(database, table string) error {
	return &ConcurrencyAbort{Database: database, Table: table}
}

// NotFoundError is swallowed by idempotent deletes and surfaced by reads.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.What) }

func NotFound(what string) error {
	return &NotFoundError{What: what}
}

// IsNotFound reports whether err (or a wrapped cause) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
