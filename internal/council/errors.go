package council

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the engine's typed failure modes, per spec.md §7.
type ErrorKind string

const (
	ErrModelTimeout          ErrorKind = "ModelTimeout"
	ErrUpstreamError         ErrorKind = "UpstreamError"
	ErrMalformedResponse     ErrorKind = "MalformedResponse"
	ErrInsufficientResponders ErrorKind = "InsufficientResponders"
	ErrSynthesisFailed       ErrorKind = "SynthesisFailed"
	ErrTranscriptWriteError  ErrorKind = "TranscriptWriteError"
	ErrCancelled             ErrorKind = "Cancelled"
	ErrConfigInvalid         ErrorKind = "ConfigInvalid"
)

// CouncilError is the concrete Go shape of spec.md §7's error table: a typed
// Kind plus the stage/model it originated from and the wrapped cause,
// following the teacher's "fmt.Errorf(...: %w)" wrapping convention but
// giving it a name callers can branch on with errors.Is/errors.As instead of
// string matching.
type CouncilError struct {
	Kind  ErrorKind
	Stage string
	Model ModelId
	Err   error
}

func (e *CouncilError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Kind, e.Stage, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *CouncilError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &CouncilError{Kind: X}) match on Kind alone.
func (e *CouncilError) Is(target error) bool {
	var t *CouncilError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func newErr(kind ErrorKind, stage string, model ModelId, cause error) *CouncilError {
	return &CouncilError{Kind: kind, Stage: stage, Model: model, Err: cause}
}

// KindOf unwraps err looking for a *CouncilError and returns its Kind.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CouncilError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
