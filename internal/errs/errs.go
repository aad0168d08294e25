// Package errs defines the error taxonomy shared by the upload pipeline.
// Every failure surfaced to a caller is classified by category and severity
// so the orchestrator can decide whether to block, abort, or degrade.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Category identifies which stage of the pipeline produced an error.
type Category string

const (
	CategoryValidation Category = "validation"
	CategorySecurity   Category = "security"
	CategoryNetwork    Category = "network"
	CategoryUpload     Category = "upload"
	CategoryProcessing Category = "processing"
)

// Severity orders errors from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Error is the structured error carried through the pipeline. The zero
// values of the contextual fields mean "not applicable": ChunkIndex is -1
// unless a chunk failed, Status is 0 unless the server answered.
type Error struct {
	Category   Category
	Severity   Severity
	Message    string
	File       string
	ChunkIndex int
	Status     int
	Timeout    time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Category, e.Message)
	if e.File != "" {
		msg += fmt.Sprintf(" (file %q)", e.File)
	}
	if e.ChunkIndex >= 0 {
		msg += fmt.Sprintf(" (chunk %d)", e.ChunkIndex)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Blocking reports whether the error must stop the upload flow. Validation
// and security failures at error severity or above block; network and
// upload errors abort the attempt in progress; processing errors never
// block.
func (e *Error) Blocking() bool {
	switch e.Category {
	case CategoryValidation, CategorySecurity:
		return e.Severity.AtLeast(SeverityError)
	case CategoryNetwork, CategoryUpload:
		return true
	default:
		return false
	}
}

func newError(cat Category, sev Severity, msg string) *Error {
	return &Error{Category: cat, Severity: sev, Message: msg, ChunkIndex: -1}
}

// Validation builds a blocking validation error.
func Validation(msg string) *Error {
	return newError(CategoryValidation, SeverityError, msg)
}

// ValidationWarning builds a non-blocking validation notice.
func ValidationWarning(msg string) *Error {
	return newError(CategoryValidation, SeverityWarning, msg)
}

// Security builds a blocking security error.
func Security(msg string) *Error {
	return newError(CategorySecurity, SeverityError, msg)
}

// Network builds a transport-level failure.
func Network(msg string, cause error) *Error {
	e := newError(CategoryNetwork, SeverityError, msg)
	e.Err = cause
	return e
}

// Upload builds a server-rejection or protocol failure.
func Upload(msg string, cause error) *Error {
	e := newError(CategoryUpload, SeverityError, msg)
	e.Err = cause
	return e
}

// Processing builds a degraded-path notice. Processing errors are logged
// and reported but never stop an upload.
func Processing(msg string, cause error) *Error {
	e := newError(CategoryProcessing, SeverityWarning, msg)
	e.Err = cause
	return e
}

// WithFile attaches the offending file name.
func (e *Error) WithFile(name string) *Error {
	e.File = name
	return e
}

// WithChunk attaches the failing chunk index.
func (e *Error) WithChunk(index int) *Error {
	e.ChunkIndex = index
	return e
}

// WithStatus attaches the HTTP status the server answered with.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithTimeout attaches the deadline that expired.
func (e *Error) WithTimeout(d time.Duration) *Error {
	e.Timeout = d
	return e
}

// WithSeverity overrides the default severity for the category.
func (e *Error) WithSeverity(sev Severity) *Error {
	e.Severity = sev
	return e
}

// As unwraps err into an *Error if one is anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or CategoryProcessing for plain
// errors that carry no classification.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return CategoryProcessing
}
