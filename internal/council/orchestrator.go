package council

import (
	"context"
	"fmt"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// State names the Orchestrator's position in the spec.md §4.12 state
// machine: Accepted -> Stage1 -> [Normalizing] -> Stage2 -> Aggregating ->
// Stage3 -> Scoring -> Writing -> Done, with a terminal Failed(kind)
// reachable from any state. Run steps through these stages in this order
// but does not store or expose a State value; EventBus events are its only
// outward report of progress.
type State string

const (
	StateAccepted    State = "Accepted"
	StateStage1      State = "Stage1"
	StateNormalizing State = "Normalizing"
	StateStage2      State = "Stage2"
	StateAggregating State = "Aggregating"
	StateStage3      State = "Stage3"
	StateScoring     State = "Scoring"
	StateWriting     State = "Writing"
	StateDone        State = "Done"
	StateFailed      State = "Failed"
)

// Result is the engine's user-facing envelope on success, mirroring
// spec.md §6's result.json schema.
type Result struct {
	RequestID     string                    `json:"request_id"`
	Mode          Mode                      `json:"mode"`
	FinalResponse string                    `json:"final_response"`
	Verdict       *Verdict                  `json:"verdict"`
	Confidence    *float64                  `json:"confidence"`
	CouncilModels []ModelId                 `json:"council_models"`
	Chairman      ModelId                   `json:"chairman"`
	Stage1Count   int                       `json:"stage1_count"`
	Stage2Count   int                       `json:"stage2_count"`
	Aggregate     []resultAggregateEntry    `json:"aggregate"`
	StartedAt     time.Time                 `json:"started_at"`
	EndedAt       time.Time                 `json:"ended_at"`
	Stage1        []StageResult[string]     `json:"stage1_responses,omitempty"`
	Stage2        []StageResult[Ranking]    `json:"stage2_rankings,omitempty"`
	TranscriptDir string                    `json:"transcript_dir,omitempty"`
}

type resultAggregateEntry struct {
	Model         ModelId      `json:"model"`
	BordaPoints   int          `json:"borda_points"`
	MeanRubric    RubricScores `json:"mean_rubric"`
	ReviewerCount int          `json:"reviewer_count"`
}

// FatalError is the user-facing shape of a fatal failure, per spec.md §7
// ("fatal errors return {error, request_id, partial_transcript_path?}").
type FatalError struct {
	Kind                 ErrorKind
	RequestID            string
	PartialTranscriptDir string
	Cause                error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Orchestrator ties C4 (Stage1) through C10 (TranscriptWriter) into the
// state machine of spec.md §4.12, emitting an EventBus event at every
// transition. This generalizes the teacher's RunFullCouncil, which calls
// the same sequence of stage functions straight-line with no explicit
// states or events; the EventBus plumbing is this engine's addition per
// spec.md §4.11/§4.12.
type Orchestrator struct {
	Caller     modelcaller.Caller
	Config     CouncilConfig
	Bus        *EventBus
	Transcript TranscriptWriter
	Labeler    AnonymizationLabeler
}

// Run executes one full deliberation for query, returning the final Result
// on success or a *FatalError on any of spec.md §7's fatal kinds. now is
// passed in (rather than time.Now()) so callers control started_at and the
// timestamp part of the transcript directory name; the short-id suffix of
// that name is random.
func (o *Orchestrator) Run(ctx context.Context, query Query, requestID string, now time.Time) (*Result, error) {
	startedAt := now
	o.emit(requestID, EventDeliberationStart, nil)

	dir, dirErr := o.Transcript.NewRequestDir(now)
	var transcriptErr error
	if dirErr != nil {
		transcriptErr = dirErr
	}

	labelMap, err := o.Labeler.Label(o.Config.CouncilModels)
	if err != nil {
		return nil, o.fail(requestID, dir, newErr(ErrConfigInvalid, "accepted", "", err))
	}

	if transcriptErr == nil {
		transcriptErr = o.Transcript.WriteRequest(dir, TranscriptRequest{Query: query, Config: o.Config, LabelMap: labelMap})
	}

	// Stage 1.
	stage1, err := RunStage1(ctx, o.Caller, o.Config, query)
	if werr := o.Transcript.WriteStage1(dir, stage1); werr != nil && transcriptErr == nil {
		transcriptErr = werr
	}
	o.emit(requestID, EventStage1Complete, stage1)
	if err != nil {
		return nil, o.fail(requestID, dir, err)
	}

	responders := make([]ModelId, 0, len(stage1))
	for _, r := range stage1 {
		if r.Succeeded() {
			responders = append(responders, r.Model)
		}
	}

	// Optional style normalization (normalizing inputs only; Stage 3 sees
	// raw text, per spec.md §9's resolution of the open question).
	var textFor map[ModelId]Stage1Text
	if o.Config.StyleNormalization && o.Config.NormalizerModel != "" {
		textFor = RunStyleNormalizer(ctx, o.Caller, o.Config, stage1)
	} else {
		textFor = make(map[ModelId]Stage1Text, len(responders))
		for _, r := range stage1 {
			if r.Succeeded() {
				textFor[r.Model] = Stage1Text{Raw: *r.Value, Normalized: *r.Value}
			}
		}
	}

	// Stage 2.
	stage2, err := RunStage2(ctx, o.Caller, o.Config, query, responders, textFor, labelMap)
	if err != nil {
		return nil, o.fail(requestID, dir, newErr(ErrConfigInvalid, "stage2", "", err))
	}
	for _, r := range stage2 {
		if r.Succeeded() {
			o.emit(requestID, EventVoteCast, r)
		}
	}

	aggregator := RankingAggregator{ExcludeSelfVotes: o.Config.ExcludeSelfVotes}
	aggregates := aggregator.Aggregate(responders, labelMap, stage2)

	if werr := o.Transcript.WriteStage2(dir, stage2); werr != nil && transcriptErr == nil {
		transcriptErr = werr
	}
	o.emit(requestID, EventStage2Complete, struct {
		Rankings  []StageResult[Ranking] `json:"rankings"`
		Aggregate []Aggregate            `json:"aggregate"`
	}{stage2, aggregates})

	// Stage 3.
	synthesis, err := RunStage3(ctx, o.Caller, o.Config, query, textFor, aggregates)
	if err != nil {
		return nil, o.fail(requestID, dir, err)
	}

	weights := DefaultConfidenceWeights()
	if o.Config.ConfidenceWeights != nil {
		weights = *o.Config.ConfidenceWeights
	}
	scorer := ConfidenceScorer{Weights: weights}
	confidence := scorer.Score(stage2, aggregates)

	if query.VerdictType == VerdictTypeBinary {
		verdict, resolvedConfidence := ResolveVerdict(synthesis.ExtractedVerdictRaw, synthesis.HasExtractedVerdict, confidence, query.ConfidenceThreshold)
		synthesis.Verdict = verdict
		synthesis.HasVerdict = true
		synthesis.Confidence = resolvedConfidence
		synthesis.HasConfidence = true
	} else {
		synthesis.Confidence = confidence
		synthesis.HasConfidence = true
	}

	if werr := o.Transcript.WriteStage3(dir, synthesis); werr != nil && transcriptErr == nil {
		transcriptErr = werr
	}
	o.emit(requestID, EventStage3Complete, synthesis)

	endedAt := time.Now()
	result := buildResult(requestID, query, o.Config, stage1, stage2, aggregates, synthesis, startedAt, endedAt, dir)

	if werr := o.Transcript.WriteResult(dir, result); werr != nil && transcriptErr == nil {
		transcriptErr = werr
	}

	if transcriptErr != nil {
		o.emit(requestID, EventError, newErr(ErrTranscriptWriteError, "transcript", "", transcriptErr))
	}

	o.emit(requestID, EventComplete, result)
	o.Bus.Close(requestID)
	return result, nil
}

func buildResult(requestID string, query Query, cfg CouncilConfig, stage1 []StageResult[string], stage2 []StageResult[Ranking], aggregates []Aggregate, synthesis *Synthesis, startedAt, endedAt time.Time, dir string) *Result {
	entries := make([]resultAggregateEntry, len(aggregates))
	for i, a := range aggregates {
		entries[i] = resultAggregateEntry{Model: a.Model, BordaPoints: a.BordaPoints, MeanRubric: a.MeanRubric, ReviewerCount: a.ReviewerCount}
	}

	stage1Count, stage2Count := 0, 0
	for _, r := range stage1 {
		if r.Succeeded() {
			stage1Count++
		}
	}
	for _, r := range stage2 {
		if r.Succeeded() {
			stage2Count++
		}
	}

	var verdict *Verdict
	var confidence *float64
	if synthesis.HasVerdict {
		v := synthesis.Verdict
		verdict = &v
	}
	if synthesis.HasConfidence {
		c := synthesis.Confidence
		confidence = &c
	}

	r := &Result{
		RequestID:     requestID,
		Mode:          query.Mode,
		FinalResponse: synthesis.Text,
		Verdict:       verdict,
		Confidence:    confidence,
		CouncilModels: cfg.CouncilModels,
		Chairman:      cfg.ChairmanModel,
		Stage1Count:   stage1Count,
		Stage2Count:   stage2Count,
		Aggregate:     entries,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		TranscriptDir: dir,
	}

	// Open Question #1 (DESIGN.md): include_details=false suppresses the
	// full Stage1/Stage2 arrays in this envelope (the sync reply,
	// result.json and the council.complete event); stage1_count/stage2_count
	// still report regardless. The stage events Run publishes earlier carry
	// the stage data either way.
	if query.IncludeDetails {
		r.Stage1 = stage1
		r.Stage2 = stage2
	}
	return r
}

func (o *Orchestrator) fail(requestID, dir string, err error) error {
	kind, ok := KindOf(err)
	if !ok {
		kind = ErrConfigInvalid
	}
	o.emit(requestID, EventError, newErr(kind, "orchestrator", "", err))
	o.Bus.Close(requestID)
	return &FatalError{Kind: kind, RequestID: requestID, PartialTranscriptDir: dir, Cause: err}
}

func (o *Orchestrator) emit(requestID string, kind EventKind, data any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(Event{Kind: kind, RequestID: requestID, Timestamp: time.Now(), Data: data})
}
