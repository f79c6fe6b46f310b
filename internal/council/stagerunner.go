package council

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"llm-council-engine/internal/modelcaller"
)

// grace is the slack StageRunner allows beyond the nominal timeout before a
// slow-but-responding call is abandoned, per spec.md §4.3 ("within
// timeout + grace (grace <= 500ms)").
const grace = 500 * time.Millisecond

// PromptFor builds the prompt to send a given model. Stages supply a
// closure here so per-model prompts (e.g. randomized ordering within a
// Stage 2 reviewer's prompt) are possible without StageRunner knowing about
// stage-specific concerns.
type PromptFor func(model ModelId) string

// RunStage fans a prompt_for-built prompt out to every target model
// concurrently. Each call gets perCallTimeout; the overall fan-out waits up
// to stageTimeout+grace so the stage has budget to wait for slower peers
// after an early per-call timeout (spec.md §4.3/§5). Results preserve target
// order regardless of completion order. Individual failures never cancel
// peers; cancelling ctx cancels every in-flight call cooperatively. This
// generalizes the teacher's QueryModelsParallel (errgroup.WithContext +
// mutex-guarded map) into an order-preserving, generic fan-out.
func RunStage(ctx context.Context, caller modelcaller.Caller, targets []ModelId, promptFor PromptFor, stageTimeout, perCallTimeout time.Duration) []StageResult[string] {
	results := make([]StageResult[string], len(targets))

	runCtx, cancel := context.WithTimeout(ctx, stageTimeout+grace)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	var mu sync.Mutex

	for i, model := range targets {
		i, model := i, model
		g.Go(func() error {
			started := time.Now()
			prompt := promptFor(model)

			text, latency, err := caller.Call(gctx, string(model), prompt, perCallTimeout)

			ended := time.Now()
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				results[i] = StageResult[string]{
					Model:     model,
					Error:     classifyCallError(model, err),
					LatencyMs: ended.Sub(started).Milliseconds(),
					StartedAt: started,
					EndedAt:   ended,
				}
				return nil // never propagate: partial failure is tolerated
			}

			v := text
			lat := latency.Milliseconds()
			if lat == 0 {
				lat = ended.Sub(started).Milliseconds()
			}
			results[i] = StageResult[string]{
				Model:     model,
				Value:     &v,
				LatencyMs: lat,
				StartedAt: started,
				EndedAt:   ended,
			}
			return nil
		})
	}

	// errgroup.Wait only returns non-nil if one of the Go funcs returned an
	// error, which none of them do (failures are captured, not propagated).
	_ = g.Wait()

	return results
}

func classifyCallError(model ModelId, err error) *CouncilError {
	kind := ErrUpstreamError
	if ce, ok := err.(*modelcaller.CallError); ok {
		switch ce.Kind {
		case modelcaller.FailureTimeout:
			kind = ErrModelTimeout
		case modelcaller.FailureMalformedResponse:
			kind = ErrMalformedResponse
		default:
			kind = ErrUpstreamError
		}
	}
	return newErr(kind, "stage", model, err)
}
