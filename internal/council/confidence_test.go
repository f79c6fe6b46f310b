package council

import "testing"

func TestConfidenceScorerFewerThanTwoReviewersDefaultsToHalf(t *testing.T) {
	scorer := ConfidenceScorer{Weights: DefaultConfidenceWeights()}
	rankings := []StageResult[Ranking]{succeededRanking("r1", []Label{"A", "B"}, nil)}

	if got := scorer.Score(rankings, nil); got != 0.50 {
		t.Fatalf("Score() = %v, want 0.50 with fewer than 2 reviewers", got)
	}
}

func TestConfidenceScorerUnanimousRankingsAreHighConfidence(t *testing.T) {
	scorer := ConfidenceScorer{Weights: DefaultConfidenceWeights()}
	rankings := []StageResult[Ranking]{
		succeededRanking("r1", []Label{"A", "B"}, nil),
		succeededRanking("r2", []Label{"A", "B"}, nil),
		succeededRanking("r3", []Label{"A", "B"}, nil),
	}
	aggregates := []Aggregate{
		{Model: "m1", BordaPoints: 6, ReviewerCount: 3},
		{Model: "m2", BordaPoints: 3, ReviewerCount: 3},
	}

	got := scorer.Score(rankings, aggregates)
	if got <= 0.6 {
		t.Fatalf("Score() = %v, want > 0.6 for unanimous rankings with a decisive spread", got)
	}
}

func TestConfidenceScorerContradictoryRankingsAreLowerConfidence(t *testing.T) {
	scorer := ConfidenceScorer{Weights: DefaultConfidenceWeights()}
	unanimous := []StageResult[Ranking]{
		succeededRanking("r1", []Label{"A", "B"}, nil),
		succeededRanking("r2", []Label{"A", "B"}, nil),
	}
	contradictory := []StageResult[Ranking]{
		succeededRanking("r1", []Label{"A", "B"}, nil),
		succeededRanking("r2", []Label{"B", "A"}, nil),
	}
	aggregates := []Aggregate{
		{Model: "m1", BordaPoints: 3, ReviewerCount: 2},
		{Model: "m2", BordaPoints: 3, ReviewerCount: 2},
	}

	agree := scorer.Score(unanimous, aggregates)
	disagree := scorer.Score(contradictory, aggregates)
	if disagree >= agree {
		t.Fatalf("contradictory rankings confidence (%v) should be lower than unanimous (%v)", disagree, agree)
	}
}

func TestConfidenceMonotoneInRubricVariance(t *testing.T) {
	// Invariant #6 (spec.md §8): confidence is monotone nonincreasing in
	// rubric variance, holding rankings fixed.
	rankings := []StageResult[Ranking]{
		succeededRanking("r1", []Label{"A", "B"}, nil),
		succeededRanking("r2", []Label{"A", "B"}, nil),
	}
	lowVariance := []Aggregate{
		{Model: "m1", BordaPoints: 4, ReviewerCount: 2, RubricVariance: RubricScores{}},
		{Model: "m2", BordaPoints: 2, ReviewerCount: 2, RubricVariance: RubricScores{}},
	}
	highVariance := []Aggregate{
		{Model: "m1", BordaPoints: 4, ReviewerCount: 2, RubricVariance: RubricScores{Accuracy: 25, Relevance: 25, Completeness: 25, Conciseness: 25, Clarity: 25}},
		{Model: "m2", BordaPoints: 2, ReviewerCount: 2, RubricVariance: RubricScores{Accuracy: 25, Relevance: 25, Completeness: 25, Conciseness: 25, Clarity: 25}},
	}

	scorer := ConfidenceScorer{Weights: DefaultConfidenceWeights()}
	low := scorer.Score(rankings, lowVariance)
	high := scorer.Score(rankings, highVariance)
	if high > low {
		t.Fatalf("confidence with high rubric variance (%v) should not exceed low variance (%v)", high, low)
	}
}

func TestConfidenceClampedToBounds(t *testing.T) {
	scorer := ConfidenceScorer{Weights: ConfidenceWeights{Rank: 0, Rubric: 0, Spread: 0}}
	rankings := []StageResult[Ranking]{
		succeededRanking("r1", []Label{"A", "B"}, nil),
		succeededRanking("r2", []Label{"B", "A"}, nil),
	}
	got := scorer.Score(rankings, nil)
	if got != 0.05 {
		t.Fatalf("Score() = %v, want clamped floor 0.05", got)
	}
}

func TestResolveVerdictMapping(t *testing.T) {
	tests := []struct {
		name         string
		extracted    ExtractedVerdict
		hasExtracted bool
		confidence   float64
		threshold    float64
		wantVerdict  Verdict
	}{
		{"approved above threshold", ExtractedApproved, true, 0.81, 0.7, VerdictPass},
		{"approved below threshold", ExtractedApproved, true, 0.55, 0.7, VerdictUnclear},
		{"rejected regardless of confidence", ExtractedRejected, true, 0.95, 0.7, VerdictFail},
		{"no extraction", "", false, 0.9, 0.7, VerdictUnclear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ResolveVerdict(tt.extracted, tt.hasExtracted, tt.confidence, tt.threshold)
			if got != tt.wantVerdict {
				t.Fatalf("ResolveVerdict() = %v, want %v", got, tt.wantVerdict)
			}
		})
	}
}
