// Package snaperr defines the typed error taxonomy shared by every
// engine component. Errors carry a Kind, a human message, and optional
// structured context (source, snapshot name, file path) so that both the
// library API and the CLI can react to a specific failure without string
// matching.
package snaperr

import (
	"context"
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Kind identifies one error category. Kind values are never derived
// dynamically; each engine component raises a fixed, known set.
type Kind string

// The full error taxonomy.
const (
	KindConfigError        Kind = "ConfigError"
	KindIoError            Kind = "IoError"
	KindFileNotFound       Kind = "FileNotFound"
	KindUnsupportedFormat  Kind = "UnsupportedFormat"
	KindSchemaDrift        Kind = "SchemaDrift"
	KindMalformedRecord    Kind = "MalformedRecord"
	KindEncodingError      Kind = "EncodingError"
	KindDuplicateSnapshot  Kind = "DuplicateSnapshot"
	KindSnapshotNotFound   Kind = "SnapshotNotFound"
	KindAmbiguousName      Kind = "AmbiguousName"
	KindResourceBusy       Kind = "ResourceBusy"
	KindSqlParseError      Kind = "SqlParseError"
	KindTableNotFound      Kind = "TableNotFound"
	KindColumnTypeConflict Kind = "ColumnTypeConflict"
	KindFileExists         Kind = "FileExists"
	KindCancelled          Kind = "Cancelled"
	KindEmptyResult        Kind = "EmptyResult"
)

// Error is the concrete type every Snapbase error is surfaced as. Context
// fields are populated opportunistically by whichever layer has the
// information available; none are required.
type Error struct {
	Kind     Kind
	Message  string
	Source   string
	Snapshot string
	Path     string
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Source != "" {
		msg += fmt.Sprintf(" (source=%s)", e.Source)
	}
	if e.Snapshot != "" {
		msg += fmt.Sprintf(" (snapshot=%s)", e.Snapshot)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	return msg
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs an Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping an existing cause. If
// cause is nil, Wrap returns nil, mirroring errors.Wrap's nil-safety so
// callers can write `return snaperr.Wrap(err, ...)` unconditionally.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// WithSource returns a copy of e annotated with the source identifier.
func (e *Error) WithSource(source string) *Error {
	c := *e
	c.Source = source
	return &c
}

// WithSnapshot returns a copy of e annotated with the snapshot name.
func (e *Error) WithSnapshot(name string) *Error {
	c := *e
	c.Snapshot = name
	return &c
}

// WithPath returns a copy of e annotated with the offending file path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Is reports whether err (or any error in its chain) is a *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// CheckContext returns a KindCancelled Error if ctx has been cancelled or
// its deadline has passed, and nil otherwise. Callers check this between
// batches during read and write and between row-groups during query and
// diff.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(err, KindCancelled, "operation cancelled")
	}
	return nil
}
