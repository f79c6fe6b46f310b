package council

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// stage3RetryBackoffBase is the base of the single retry's exponential
// backoff the chairman call gets on failure (spec.md §4.8).
const stage3RetryBackoffBase = 500 * time.Millisecond

// RunStage3 dispatches the chairman synthesis call: a consensus or debate
// framing directive built from the aggregated rankings, plus a verdict
// extraction instruction when the query asked for one. One retry with
// exponential backoff on failure; a second failure yields SynthesisFailed
// (spec.md §4.8).
func RunStage3(ctx context.Context, caller modelcaller.Caller, cfg CouncilConfig, query Query, stage1 map[ModelId]Stage1Text, aggregates []Aggregate) (*Synthesis, error) {
	prompt := synthesisPrompt(query, stage1, aggregates)

	stageTimeout := stageTimeoutOrDefault(cfg.PerStageTimeout.Stage3, 90*time.Second)

	text, _, err := caller.Call(ctx, string(cfg.ChairmanModel), prompt, stageTimeout)
	if err != nil {
		select {
		case <-time.After(stage3RetryBackoffBase):
		case <-ctx.Done():
			return nil, newErr(ErrSynthesisFailed, "stage3", cfg.ChairmanModel, ctx.Err())
		}
		text, _, err = caller.Call(ctx, string(cfg.ChairmanModel), prompt, stageTimeout)
		if err != nil {
			return nil, newErr(ErrSynthesisFailed, "stage3", cfg.ChairmanModel, err)
		}
	}

	syn := &Synthesis{Chairman: cfg.ChairmanModel, Text: text}

	if query.VerdictType == VerdictTypeBinary {
		if extracted, ok := extractFinalVerdict(text); ok {
			syn.ExtractedVerdictRaw = extracted
			syn.HasExtractedVerdict = true
		}
	}

	return syn, nil
}

func synthesisPrompt(query Query, stage1 map[ModelId]Stage1Text, aggregates []Aggregate) string {
	// Stage 3 sees responses with model attribution restored (spec.md §4.8)
	// and raw, not style-normalized, text — normalization applies only to
	// Stage 2 inputs (spec.md §9, DESIGN.md Open Question #2).
	var ranked strings.Builder
	for i, a := range aggregates {
		t := stage1[a.Model]
		fmt.Fprintf(&ranked, "%d. [%s] (borda=%d, mean_accuracy=%.1f, mean_relevance=%.1f)\n%s\n\n",
			i+1, a.Model, a.BordaPoints, a.MeanRubric.Accuracy, a.MeanRubric.Relevance, t.Raw)
	}

	var directive string
	switch query.Mode {
	case ModeDebate:
		directive = "Identify the strongest disagreements between these responses and explain which position is best supported, and why."
	default:
		directive = "Synthesize these responses into a single best answer, incorporating the strongest points from each."
	}

	var verdictInstruction string
	if query.VerdictType == VerdictTypeBinary {
		verdictInstruction = "\n\nEnd your answer with a final line in exactly this form, with nothing else on it:\nFINAL_VERDICT: APPROVED\nor\nFINAL_VERDICT: REJECTED"
	}

	return fmt.Sprintf(`Question: %s

The following responses are ordered best to worst by peer review:

%s
%s%s`, query.Prompt, ranked.String(), directive, verdictInstruction)
}

// finalVerdictLineRe matches a standalone "FINAL_VERDICT: APPROVED|REJECTED"
// line, per spec.md §4.8's wire protocol.
var finalVerdictLineRe = regexp.MustCompile(`(?i)^FINAL_VERDICT:\s*(APPROVED|REJECTED)\s*$`)

// extractFinalVerdict scans from the end of text, skipping trailing blank
// lines, and checks whether the last substantive line is a standalone
// FINAL_VERDICT: line (spec.md §4.8). Anything else on the last line — no
// sentinel, or the sentinel followed by more prose — yields no verdict;
// prose elsewhere that merely mentions "approved"/"rejected" is never
// consulted.
func extractFinalVerdict(text string) (ExtractedVerdict, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		m := finalVerdictLineRe.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		if strings.EqualFold(m[1], string(ExtractedApproved)) {
			return ExtractedApproved, true
		}
		return ExtractedRejected, true
	}
	return "", false
}
