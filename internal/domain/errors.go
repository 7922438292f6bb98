// Package domain defines core types, interfaces, and errors for the reporting pipeline.
package domain

import "fmt"

// NotFoundError indicates a source, file, or directory was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// SchemaMismatchError indicates partitioned shards disagree on their column set.
// It is fatal for the load; shards are never silently reconciled.
type SchemaMismatchError struct {
	Message string
	File    string
	Missing []string
	Extra   []string
}

func (e *SchemaMismatchError) Error() string { return e.Message }

// SourceUnavailableError indicates a fetch failed and no usable cache exists.
type SourceUnavailableError struct {
	Message string
}

func (e *SourceUnavailableError) Error() string { return e.Message }

// EmptyResultError indicates a partitioned read produced zero usable shards.
type EmptyResultError struct {
	Message string
}

func (e *EmptyResultError) Error() string { return e.Message }

// CancelledError indicates a user-requested abort of an in-flight export.
type CancelledError struct {
	Message string
}

func (e *CancelledError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrSchemaMismatch creates a SchemaMismatchError naming the offending shard
// and the columns it disagrees on.
func ErrSchemaMismatch(file string, missing, extra []string) *SchemaMismatchError {
	return &SchemaMismatchError{
		Message: fmt.Sprintf("shard %s does not match the reference schema (missing %v, extra %v)", file, missing, extra),
		File:    file,
		Missing: missing,
		Extra:   extra,
	}
}

// ErrSourceUnavailable creates a SourceUnavailableError with a formatted message.
func ErrSourceUnavailable(format string, args ...interface{}) *SourceUnavailableError {
	return &SourceUnavailableError{Message: fmt.Sprintf(format, args...)}
}

// ErrEmptyResult creates an EmptyResultError with a formatted message.
func ErrEmptyResult(format string, args ...interface{}) *EmptyResultError {
	return &EmptyResultError{Message: fmt.Sprintf(format, args...)}
}

// ErrCancelled creates a CancelledError with a formatted message.
func ErrCancelled(format string, args ...interface{}) *CancelledError {
	return &CancelledError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
