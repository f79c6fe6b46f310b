package council

import (
	"context"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// RunStage1 dispatches the user's query to every council model independently
// (spec.md §4.4). Succeeds iff at least 2 responses succeed; otherwise
// returns InsufficientResponders and the caller must not proceed to Stage 2.
func RunStage1(ctx context.Context, caller modelcaller.Caller, cfg CouncilConfig, query Query) ([]StageResult[string], error) {
	promptFor := func(ModelId) string {
		return "Answer the user's question.\n\nQuestion: " + query.Prompt
	}

	stageTimeout := stageTimeoutOrDefault(cfg.PerStageTimeout.Stage1, 60*time.Second)
	results := RunStage(ctx, caller, cfg.CouncilModels, promptFor, stageTimeout, stageTimeout/2)

	successes := 0
	for _, r := range results {
		if r.Succeeded() {
			successes++
		}
	}
	if successes < 2 {
		return results, newErr(ErrInsufficientResponders, "stage1", "", errNotEnoughResponders(successes))
	}
	return results, nil
}

func stageTimeoutOrDefault(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func errNotEnoughResponders(n int) error {
	return &insufficientRespondersError{count: n}
}

type insufficientRespondersError struct{ count int }

func (e *insufficientRespondersError) Error() string {
	if e.count == 0 {
		return "no council models responded successfully"
	}
	return "only 1 council model responded successfully, need at least 2"
}
