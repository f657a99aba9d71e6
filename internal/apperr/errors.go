// Package apperr defines the error taxonomy of the drift checker.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrManifest = errors.New("manifest error")
	ErrSnapshot = errors.New("snapshot error")
	ErrNotFound = errors.New("not found")
)

// ManifestError reports a missing or malformed template configuration.
type ManifestError struct {
	Path  string // offending file
	Field string // offending key or entry, if any
	Err   error
}

func (e *ManifestError) Error() string {
	return format("manifest", e.Path, e.Field, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrManifest) match any *ManifestError.
func (e *ManifestError) Is(target error) bool { return target == ErrManifest }

// SnapshotError reports a missing generation record or an answers file
// that disagrees with the manifest.
type SnapshotError struct {
	Path  string
	Field string
	Err   error
}

func (e *SnapshotError) Error() string {
	return format("snapshot", e.Path, e.Field, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSnapshot) match any *SnapshotError.
func (e *SnapshotError) Is(target error) bool { return target == ErrSnapshot }

// Manifestf builds a ManifestError with a formatted cause.
func Manifestf(path, field, msg string, args ...any) error {
	return &ManifestError{Path: path, Field: field, Err: fmt.Errorf(msg, args...)}
}

// Snapshotf builds a SnapshotError with a formatted cause.
func Snapshotf(path, field, msg string, args ...any) error {
	return &SnapshotError{Path: path, Field: field, Err: fmt.Errorf(msg, args...)}
}

// Exit codes of the CLI.
const (
	ExitClean    = 0
	ExitFindings = 1
	ExitConfig   = 2
)

// ExitCode maps a fatal error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	return ExitConfig
}

func format(kind, path, field string, err error) string {
	msg := kind + ": " + path
	if field != "" {
		msg += ": " + field
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}
