// Package modelcaller defines the abstract single-call primitive the
// deliberation engine is built against (spec.md §4.1), plus concrete
// implementations and a scripted test double.
package modelcaller

import (
	"context"
	"time"
)

// FailureKind classifies a Caller failure so the engine can decide whether
// it's recoverable at the stage level (everything except repeated timeouts
// past the degradation thresholds in spec.md §4.4/§4.8).
type FailureKind string

const (
	FailureTimeout           FailureKind = "Timeout"
	FailureRateLimited       FailureKind = "RateLimited"
	FailureUpstream4xx       FailureKind = "Upstream4xx"
	FailureUpstream5xx       FailureKind = "Upstream5xx"
	FailureNetwork           FailureKind = "Network"
	FailureMalformedResponse FailureKind = "MalformedResponse"
)

// CallError is the error type Caller implementations return so the engine
// can classify failures without string matching.
type CallError struct {
	Kind  FailureKind
	Model string
	Err   error
}

func (e *CallError) Error() string {
	return string(e.Kind) + ": " + e.Model + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Caller is the single operation every upstream gateway (hosted aggregator,
// direct provider, local runtime) must implement. Implementations are
// stateless and safe for concurrent use — the engine calls Call from many
// goroutines at once within a single stage's fan-out.
type Caller interface {
	Call(ctx context.Context, model, prompt string, timeout time.Duration) (text string, latency time.Duration, err error)
}
