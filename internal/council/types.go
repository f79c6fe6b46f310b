// Package council implements the deliberation engine: fan out a query to a
// council of models, collect anonymized peer rankings, aggregate them into a
// consensus, and synthesize a final response with a reproducible transcript.
package council

import "time"

// ModelId identifies a council member. It is an opaque string honoured only
// by the ModelCaller implementation the engine is configured with.
type ModelId string

// Label is an opaque per-request identifier substituted for a ModelId during
// peer review (§4.2). Single letters A..Z; AA, AB, ... once a council
// exceeds 26 members.
type Label string

// Mode selects how Stage 3 frames its synthesis directive.
type Mode string

const (
	ModeConsensus Mode = "consensus"
	ModeDebate    Mode = "debate"
)

// VerdictType selects whether Stage 3 must also extract a binary verdict.
type VerdictType string

const (
	VerdictTypeNone   VerdictType = "none"
	VerdictTypeBinary VerdictType = "binary"
)

// Verdict is the engine's final PASS/FAIL/UNCLEAR classification in binary
// verdict mode.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnclear Verdict = "unclear"
)

// ExtractedVerdict is the raw APPROVED/REJECTED line a chairman emits at the
// end of its synthesis when verdict mode was requested.
type ExtractedVerdict string

const (
	ExtractedApproved ExtractedVerdict = "APPROVED"
	ExtractedRejected ExtractedVerdict = "REJECTED"
)

// Query is the immutable user request accepted by the Orchestrator.
type Query struct {
	Prompt              string
	Mode                Mode
	VerdictType         VerdictType
	ConfidenceThreshold float64
	IncludeDetails      bool
}

// StageTimeouts holds the per-stage wall-clock budgets (§3 per_stage_timeout_ms).
type StageTimeouts struct {
	Stage1 time.Duration
	Stage2 time.Duration
	Stage3 time.Duration
}

// ConfidenceWeights are the blend weights ConfidenceScorer applies (§4.9,
// §9 "exact weights ... SHOULD be configurable"). A nil *ConfidenceWeights
// on CouncilConfig means "use the spec defaults".
type ConfidenceWeights struct {
	Rank   float64
	Rubric float64
	Spread float64
}

// DefaultConfidenceWeights are the weights spec.md §4.9 lists as defaults.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Rank: 0.5, Rubric: 0.3, Spread: 0.2}
}

// CouncilConfig is the resolved, validated configuration the Orchestrator is
// constructed with. The engine has no process-wide singletons; assembling
// this struct from environment/config-file sources is a collaborator's job
// (internal/config).
type CouncilConfig struct {
	CouncilModels       []ModelId
	ChairmanModel       ModelId
	NormalizerModel     ModelId // empty means "none"
	ExcludeSelfVotes    bool
	StyleNormalization  bool
	MaxReviewers        int // 0 means "no cap, review by the full council"
	PerStageTimeout     StageTimeouts
	ConfidenceWeights   *ConfidenceWeights
	IncludeDetails      bool
}

// StageResult wraps one model's outcome in a stage. Exactly one of Value /
// Error is set.
type StageResult[T any] struct {
	Model     ModelId
	Value     *T
	Error     *CouncilError
	LatencyMs int64
	StartedAt time.Time
	EndedAt   time.Time
}

// Succeeded reports whether this StageResult carries a Value.
func (r StageResult[T]) Succeeded() bool {
	return r.Error == nil && r.Value != nil
}

// LabelMap is the per-request bijection between ModelId and Label, recorded
// verbatim in the transcript's request.json.
type LabelMap struct {
	ModelToLabel map[ModelId]Label
	LabelToModel map[Label]ModelId
}

// Model returns the ModelId behind a Label, used only after Stage 2 parsing.
func (m LabelMap) Model(l Label) (ModelId, bool) {
	id, ok := m.LabelToModel[l]
	return id, ok
}

// LabelOf returns the Label assigned to a ModelId.
func (m LabelMap) LabelOf(id ModelId) (Label, bool) {
	l, ok := m.ModelToLabel[id]
	return l, ok
}

// RubricScores is the fixed 5-dimension peer-review rubric, each 0..10.
type RubricScores struct {
	Accuracy      float64 `json:"accuracy"`
	Relevance     float64 `json:"relevance"`
	Completeness  float64 `json:"completeness"`
	Conciseness   float64 `json:"conciseness"`
	Clarity       float64 `json:"clarity"`
}

// clamp returns the rubric with every dimension clamped to [0,10], per the
// Ranking invariant in spec.md §3.
func (r RubricScores) clamp() RubricScores {
	c := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 10 {
			return 10
		}
		return v
	}
	return RubricScores{
		Accuracy:     c(r.Accuracy),
		Relevance:    c(r.Relevance),
		Completeness: c(r.Completeness),
		Conciseness:  c(r.Conciseness),
		Clarity:      c(r.Clarity),
	}
}

func (r RubricScores) mean() float64 {
	return (r.Accuracy + r.Relevance + r.Completeness + r.Conciseness + r.Clarity) / 5
}

// Ranking is one reviewer's parsed, validated output: an ordering of the
// reviewed Labels best-to-worst, and a rubric score per Label.
type Ranking struct {
	Reviewer ModelId
	Ordering []Label
	Rubric   map[Label]RubricScores
}

// Aggregate is the per-response outcome of RankingAggregator: Borda points,
// rubric statistics, and provenance.
type Aggregate struct {
	Model         ModelId
	BordaPoints   int
	MeanRubric    RubricScores
	RubricVariance RubricScores
	ReviewerCount int
	SelfExcluded  bool
}

// Synthesis is Stage 3's structured output.
type Synthesis struct {
	Chairman             ModelId
	Text                 string
	Verdict              Verdict
	HasVerdict           bool
	Confidence           float64
	HasConfidence        bool
	ExtractedVerdictRaw  ExtractedVerdict
	HasExtractedVerdict  bool
}

// Stage1Text carries the raw and (optionally) normalized text of a single
// model's Stage 1 answer side by side (spec.md §4.5). Only the raw text is
// written to the transcript (stage1.json); the normalized text is not
// recorded there.
type Stage1Text struct {
	Raw        string
	Normalized string // equals Raw when normalization is disabled or failed
}
