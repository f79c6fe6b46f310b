package council

import (
	"context"
	"fmt"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// RunStyleNormalizer re-dispatches each successful Stage 1 text to the
// normalizer model for neutral-style rewriting (spec.md §4.5). A model whose
// normalization call fails falls back to its raw text — non-fatal, the same
// "degrade to a default on error" shape the teacher uses for
// GenerateConversationTitle's failure path. Returns a map from each
// successful Stage 1 responder to its Stage1Text. The normalizer calls are
// made one after another.
func RunStyleNormalizer(ctx context.Context, caller modelcaller.Caller, cfg CouncilConfig, stage1 []StageResult[string]) map[ModelId]Stage1Text {
	out := make(map[ModelId]Stage1Text, len(stage1))
	if cfg.NormalizerModel == "" {
		for _, r := range stage1 {
			if r.Succeeded() {
				out[r.Model] = Stage1Text{Raw: *r.Value, Normalized: *r.Value}
			}
		}
		return out
	}

	timeout := stageTimeoutOrDefault(cfg.PerStageTimeout.Stage1, 60*time.Second) / 2

	for _, r := range stage1 {
		if !r.Succeeded() {
			continue
		}
		raw := *r.Value
		prompt := normalizerPrompt(raw)
		text, _, err := caller.Call(ctx, string(cfg.NormalizerModel), prompt, timeout)
		if err != nil {
			out[r.Model] = Stage1Text{Raw: raw, Normalized: raw}
			continue
		}
		out[r.Model] = Stage1Text{Raw: raw, Normalized: text}
	}
	return out
}

func normalizerPrompt(response string) string {
	return fmt.Sprintf(`Rewrite the following response in a neutral, consistent style.
Remove any first-person preambles ("I think", "As an AI", etc.) while preserving all semantic content.
Do not add commentary; output only the rewritten response.

Response:
%s`, response)
}
