package diagnostics

import (
	"errors"
	"fmt"
)

// ErrInvalidAudio marks malformed, empty or unreadable waveforms. It aborts a run.
var ErrInvalidAudio = errors.New("invalid audio")

// InvalidAudioError carries the reason a waveform was rejected
type InvalidAudioError struct {
	Source string
	Reason string
	Err    error
}

func (e *InvalidAudioError) Error() string {
	msg := "invalid audio"
	if e.Source != "" {
		msg += " " + e.Source
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is(err, ErrInvalidAudio) match
func (e *InvalidAudioError) Is(target error) bool {
	return target == ErrInvalidAudio
}

func (e *InvalidAudioError) Unwrap() error {
	return e.Err
}

// NewInvalidAudio builds an InvalidAudioError with a formatted reason
func NewInvalidAudio(source string, format string, args ...any) *InvalidAudioError {
	return &InvalidAudioError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// AbstentionCondition records a deliberate early exit on unreliable input.
// It is not a failure; it implements error only so it can travel through
// error-typed plumbing and be matched with errors.As.
type AbstentionCondition struct {
	Stage  string
	Reason string
}

func (a *AbstentionCondition) Error() string {
	return fmt.Sprintf("%s abstained: %s", a.Stage, a.Reason)
}

// ExternalToolFailure wraps a missing, misconfigured or failing external tool
type ExternalToolFailure struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ExternalToolFailure) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ", stderr: " + e.Stderr
	}
	return msg
}

func (e *ExternalToolFailure) Unwrap() error {
	return e.Err
}

// ResourceNotFoundError reports a missing stem, score or report file
type ResourceNotFoundError struct {
	Kind string
	Path string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Path)
}

// IsAbstention reports whether err is an AbstentionCondition
func IsAbstention(err error) bool {
	var a *AbstentionCondition
	return errors.As(err, &a)
}

// IsExternalToolFailure reports whether err is an ExternalToolFailure
func IsExternalToolFailure(err error) bool {
	var e *ExternalToolFailure
	return errors.As(err, &e)
}

// IsResourceNotFound reports whether err is a ResourceNotFoundError
func IsResourceNotFound(err error) bool {
	var e *ResourceNotFoundError
	return errors.As(err, &e)
}
