// Package tabulaerrors provides structured error handling for Tabula with error
// kinds, causal chaining, attached SQL text and stack capture.
//
// # Overview
//
// Every failure raised by the engine, the loaders and the duplicate detector is
// one of a small set of kinds. Lower-level driver errors are never returned bare:
// they are wrapped into a kind with the original error preserved as the cause.
//
// # Basic Usage
//
//	// Create a new error
//	err := tabulaerrors.New(tabulaerrors.KindConnection, "engine not initialized")
//
//	// Wrap a driver failure and attach the failing statement
//	if _, err := conn.ExecContext(ctx, stmt); err != nil {
//	    return tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "create staging table").
//	        WithQuery(stmt).
//	        WithDetail("table", name)
//	}
//
// # Kinds
//
// Validation problems found while checking rows are reported as data in
// transform results. KindValidation is used only for invalid inputs such as a
// template without a placeholder or an unknown source option.
//
// # Thread Safety
//
// Error instances are not safe for concurrent modification. Finish adding
// details before sharing an error across goroutines.
package tabulaerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind categorizes an error.
type Kind string

const (
	// KindInitialization covers engine/connection creation, extension loading,
	// credential and attachment setup.
	KindInitialization Kind = "initialization"
	// KindConnection is returned when an operation runs before the engine is ready.
	KindConnection Kind = "connection"
	// KindQuery represents SQL execution failures.
	KindQuery Kind = "query"
	// KindTransaction represents commit failures after an attempted rollback.
	KindTransaction Kind = "transaction"
	// KindStorage represents object storage failures.
	KindStorage Kind = "storage"
	// KindValidation represents rejected inputs.
	KindValidation Kind = "validation"
	// KindConfig represents configuration errors.
	KindConfig Kind = "config"
	// KindInternal represents unexpected internal failures.
	KindInternal Kind = "internal"
)

var prefixes = map[Kind]string{
	KindInitialization: "DuckDB initialization failed",
	KindConnection:     "Connection error",
	KindQuery:          "Query execution failed",
	KindTransaction:    "Transaction failed",
	KindStorage:        "S3 operation failed",
	KindValidation:     "Validation failed",
	KindConfig:         "Invalid configuration",
	KindInternal:       "Internal error",
}

// Prefix returns the human readable message prefix for the kind.
func (k Kind) Prefix() string {
	if p, ok := prefixes[k]; ok {
		return p
	}
	return string(k)
}

// Error is a structured error with a kind, an optional cause and optional SQL
// text of the statement that failed.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Query   string
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error returns "<prefix>: <message>" followed by the cause when present.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Prefix(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Prefix(), e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. It can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithQuery attaches the SQL text that produced the error.
func (e *Error) WithQuery(sql string) *Error {
	e.Query = sql
	return e
}

// New creates an error of the given kind and captures the call stack.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a kind and message, preserving err as the cause. An
// existing *Error keeps its stack and its attached query. Returns nil for a nil err.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Kind:    kind,
			Message: message,
			Cause:   err,
			Query:   existing.Query,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// QueryOf returns the SQL text attached to the outermost *Error carrying one.
func QueryOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Query != "" {
			return e.Query
		}
		err = e.Cause
	}
	return ""
}

// IsRetryable reports whether the error is worth retrying. Only connection
// errors are: the engine may still be initializing.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Kind {
	case KindConnection:
		return true
	case KindInitialization, KindQuery, KindTransaction, KindStorage,
		KindValidation, KindConfig, KindInternal:
		return false
	default:
		return false
	}
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
