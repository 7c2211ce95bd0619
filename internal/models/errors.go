package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by the phase that detected them.
type ErrorKind int

// Error kinds.
const (
	KindUnknown ErrorKind = iota
	KindConfig
	KindPreflight
	KindPipeline
	KindIntegrity
	KindInterrupted
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindPreflight:
		return "preflight"
	case KindPipeline:
		return "pipeline"
	case KindIntegrity:
		return "integrity"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ExitCode maps the kind to a process exit status.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindConfig:
		return 2
	case KindPreflight:
		return 3
	case KindPipeline:
		return 4
	case KindIntegrity:
		return 5
	case KindInterrupted:
		return 130
	default:
		return 1
	}
}

// Error tags an error with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors.
var (
	ErrFilesChanged       = errors.New("archiver reported files changed while reading")
	ErrChecksumMismatch   = errors.New("checksum mismatch: archive was modified or corrupted")
	ErrPassphraseMismatch = errors.New("passphrases do not match")
	ErrKeyNotFound        = errors.New("encryption key not found")
)

// ConfigErrorf returns a configuration error.
func ConfigErrorf(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// PreflightErrorf returns a preflight error.
func PreflightErrorf(format string, args ...any) error {
	return &Error{Kind: KindPreflight, Err: fmt.Errorf(format, args...)}
}

// PipelineErrorf returns a pipeline error.
func PipelineErrorf(format string, args ...any) error {
	return &Error{Kind: KindPipeline, Err: fmt.Errorf(format, args...)}
}

// IntegrityErrorf returns an integrity error.
func IntegrityErrorf(format string, args ...any) error {
	return &Error{Kind: KindIntegrity, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// InterruptedError wraps a cancellation cause.
func InterruptedError(err error) error {
	return &Error{Kind: KindInterrupted, Err: fmt.Errorf("interrupted: %w", err)}
}
