package council

import "sort"

// confidenceVMax normalizes c_rubric into [0,1] (spec.md §4.9): the mean
// per-dimension rubric variance is divided by it and capped at 1. It is not
// the largest possible variance on the 0..10 scale (that is 25, two samples
// at 0 and 10); any variance of 6.25 or more already gives c_rubric = 0.
const confidenceVMax = 6.25

// ConfidenceScorer blends three independent signals of deliberation
// agreement into a single [0,1] confidence score (spec.md §4.9). It has no
// teacher analogue; the "variance lowers confidence" shape is grounded in
// the pack's attest-framework assertion-judge eval, and the overall
// "blend several normalized signals into one score" shape in
// billie-coop-loco's ConsensusResult.Confidence.
type ConfidenceScorer struct {
	Weights ConfidenceWeights
}

// Score computes confidence from the surviving reviewer Rankings and the
// aggregated per-responder stats. Falls back to the spec's 0.50 default
// when fewer than 2 rankings survived to compare (c_rank is undefined with
// fewer than 2 orderings).
func (s ConfidenceScorer) Score(rankings []StageResult[Ranking], aggregates []Aggregate) float64 {
	valid := make([]Ranking, 0, len(rankings))
	for _, r := range rankings {
		if r.Succeeded() {
			valid = append(valid, *r.Value)
		}
	}

	if len(valid) < 2 {
		return 0.50
	}

	cRank := kendallTauAgreement(valid)
	cRubric := rubricConfidence(aggregates)
	cSpread := bordaSpreadConfidence(aggregates)

	w := s.Weights
	blended := w.Rank*cRank + w.Rubric*cRubric + w.Spread*cSpread

	if blended < 0.05 {
		return 0.05
	}
	if blended > 0.99 {
		return 0.99
	}
	return blended
}

// kendallTauAgreement averages pairwise Kendall-tau agreement (1 - 2*disagreements/pairs)
// across every pair of reviewer orderings that share at least two common
// labels, then maps the [-1,1] tau into a [0,1] confidence contribution.
func kendallTauAgreement(rankings []Ranking) float64 {
	type pair struct{ tau float64 }
	var pairs []pair

	for i := 0; i < len(rankings); i++ {
		for j := i + 1; j < len(rankings); j++ {
			tau, ok := kendallTau(rankings[i].Ordering, rankings[j].Ordering)
			if !ok {
				continue
			}
			pairs = append(pairs, pair{tau})
		}
	}

	if len(pairs) == 0 {
		return 0.5
	}
	var sum float64
	for _, p := range pairs {
		sum += p.tau
	}
	avg := sum / float64(len(pairs))
	return (avg + 1) / 2
}

// kendallTau computes Kendall's tau between two orderings restricted to
// their common labels. Returns ok=false if fewer than 2 labels are shared.
func kendallTau(a, b []Label) (float64, bool) {
	posA := make(map[Label]int, len(a))
	for i, l := range a {
		posA[l] = i
	}
	posB := make(map[Label]int, len(b))
	for i, l := range b {
		posB[l] = i
	}

	var common []Label
	for _, l := range a {
		if _, ok := posB[l]; ok {
			common = append(common, l)
		}
	}
	n := len(common)
	if n < 2 {
		return 0, false
	}

	concordant, discordant := 0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			aOrder := posA[common[i]] - posA[common[j]]
			bOrder := posB[common[i]] - posB[common[j]]
			switch {
			case (aOrder > 0) == (bOrder > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	total := concordant + discordant
	if total == 0 {
		return 0, false
	}
	return float64(concordant-discordant) / float64(total), true
}

// rubricConfidence averages 1 - variance/V_max across every responder that
// has a rubric sample, mapping lower variance to higher confidence.
func rubricConfidence(aggregates []Aggregate) float64 {
	var sum float64
	n := 0
	for _, a := range aggregates {
		if a.ReviewerCount == 0 {
			continue
		}
		v := overallVariance(a.RubricVariance) / confidenceVMax
		if v > 1 {
			v = 1
		}
		sum += 1 - v
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// bordaSpreadConfidence measures how decisively the top responder won:
// normalized gap between the top two Borda totals. Undefined (a single
// responder) maps to full confidence, per spec.md §4.9.
func bordaSpreadConfidence(aggregates []Aggregate) float64 {
	if len(aggregates) < 2 {
		return 1
	}

	sorted := make([]Aggregate, len(aggregates))
	copy(sorted, aggregates)
	sort.SliceStable(sorted, func(i, j int) bool { return lessAggregate(sorted[i], sorted[j]) })

	top, second := sorted[0].BordaPoints, sorted[1].BordaPoints
	if top == 0 {
		return 0.5
	}
	gap := float64(top-second) / float64(top)
	if gap < 0 {
		gap = 0
	}
	if gap > 1 {
		gap = 1
	}
	return gap
}

// ResolveVerdict maps a chairman's extracted APPROVED/REJECTED line and the
// confidence score into the engine's final Verdict, per spec.md §4.9's
// table: REJECTED fails regardless of confidence; APPROVED is a pass only
// at or above the configured threshold, otherwise UNCLEAR; no extraction at
// all is UNCLEAR with the 0.50 fallback confidence.
func ResolveVerdict(extracted ExtractedVerdict, hasExtracted bool, confidence, threshold float64) (Verdict, float64) {
	if !hasExtracted {
		return VerdictUnclear, 0.50
	}
	switch extracted {
	case ExtractedRejected:
		return VerdictFail, confidence
	case ExtractedApproved:
		if confidence >= threshold {
			return VerdictPass, confidence
		}
		return VerdictUnclear, confidence
	default:
		return VerdictUnclear, 0.50
	}
}
