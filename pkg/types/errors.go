package types

import (
	"errors"
	"fmt"
)

// CompileError reports malformed rule source. Line is 1-based; it is 0
// when the source could not be read at all.
type CompileError struct {
	Source  string // file name, or empty for in-memory text
	Line    int
	Message string
	Err     error // underlying cause, if any
}

func (e *CompileError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("syntax error - %s(%d): %s", e.Source, e.Line, e.Message)
	}
	return fmt.Sprintf("syntax error - line(%d): %s", e.Line, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// ScanErrorKind classifies scan failures.
type ScanErrorKind int

const (
	ScanFileNotFound ScanErrorKind = iota + 1
	ScanFileUnreadable
	ScanFailure
	ScanInputTooLarge
)

// String returns the taxonomy name of the kind.
func (k ScanErrorKind) String() string {
	switch k {
	case ScanFileNotFound:
		return "FileNotFound"
	case ScanFileUnreadable:
		return "FileUnreadable"
	case ScanFailure:
		return "ScanFailure"
	case ScanInputTooLarge:
		return "InputTooLarge"
	default:
		return fmt.Sprintf("ScanErrorKind(%d)", int(k))
	}
}

// ScanError reports a failed scan call.
type ScanError struct {
	Kind    ScanErrorKind
	Message string
	Err     error
}

func (e *ScanError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Is matches any ScanError of the same kind, so the sentinels below work
// with errors.Is.
func (e *ScanError) Is(target error) bool {
	var t *ScanError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks against ScanError kinds.
var (
	ErrFileNotFound   = &ScanError{Kind: ScanFileNotFound}
	ErrFileUnreadable = &ScanError{Kind: ScanFileUnreadable}
	ErrScanFailure    = &ScanError{Kind: ScanFailure}
	ErrInputTooLarge  = &ScanError{Kind: ScanInputTooLarge}
)

// NewScanError builds a ScanError with a formatted message.
func NewScanError(kind ScanErrorKind, err error, format string, args ...any) *ScanError {
	return &ScanError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
