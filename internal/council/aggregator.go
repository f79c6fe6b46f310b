package council

import "sort"

// RankingAggregator turns a set of per-reviewer Rankings into one Aggregate
// per responder: Borda points, rubric mean/variance, and self-vote handling
// (spec.md §4.7). It generalizes the teacher's CalculateAggregateRankings
// (average rank position) into Borda counting, following the pack's general
// "collect votes, score, sort" shape from billie-coop-loco's consensus
// ranking code.
type RankingAggregator struct {
	ExcludeSelfVotes bool
}

// Aggregate computes one Aggregate per responder in responders, using only
// the Rankings in rankings whose reviewer successfully produced one.
func (a RankingAggregator) Aggregate(responders []ModelId, labelMap LabelMap, rankings []StageResult[Ranking]) []Aggregate {
	bordaPoints := make(map[ModelId]int, len(responders))
	rubricSamples := make(map[ModelId][]RubricScores, len(responders))
	reviewerCount := make(map[ModelId]int, len(responders))
	selfExcluded := make(map[ModelId]bool, len(responders))

	for _, rr := range rankings {
		if !rr.Succeeded() {
			continue
		}
		ranking := *rr.Value
		k := len(ranking.Ordering)

		for pos, label := range ranking.Ordering {
			model, ok := labelMap.Model(label)
			if !ok {
				continue
			}

			isSelf := model == ranking.Reviewer
			if isSelf && a.ExcludeSelfVotes {
				selfExcluded[model] = true
				continue
			}

			points := k - pos
			bordaPoints[model] += points
			reviewerCount[model]++

			if rs, ok := ranking.Rubric[label]; ok {
				rubricSamples[model] = append(rubricSamples[model], rs)
			}
		}
	}

	out := make([]Aggregate, 0, len(responders))
	for _, model := range responders {
		mean, variance := rubricMeanVariance(rubricSamples[model])
		out = append(out, Aggregate{
			Model:          model,
			BordaPoints:    bordaPoints[model],
			MeanRubric:     mean,
			RubricVariance: variance,
			ReviewerCount:  reviewerCount[model],
			SelfExcluded:   selfExcluded[model],
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessAggregate(out[i], out[j])
	})
	return out
}

// lessAggregate orders best-first: Borda points descending, then accuracy,
// then relevance, then lexicographic ModelId (spec.md §4.7 tie-break order).
func lessAggregate(a, b Aggregate) bool {
	if a.BordaPoints != b.BordaPoints {
		return a.BordaPoints > b.BordaPoints
	}
	if a.MeanRubric.Accuracy != b.MeanRubric.Accuracy {
		return a.MeanRubric.Accuracy > b.MeanRubric.Accuracy
	}
	if a.MeanRubric.Relevance != b.MeanRubric.Relevance {
		return a.MeanRubric.Relevance > b.MeanRubric.Relevance
	}
	return a.Model < b.Model
}

func rubricMeanVariance(samples []RubricScores) (mean, variance RubricScores) {
	n := float64(len(samples))
	if n == 0 {
		return RubricScores{}, RubricScores{}
	}

	var sum RubricScores
	for _, s := range samples {
		sum.Accuracy += s.Accuracy
		sum.Relevance += s.Relevance
		sum.Completeness += s.Completeness
		sum.Conciseness += s.Conciseness
		sum.Clarity += s.Clarity
	}
	mean = RubricScores{
		Accuracy:     sum.Accuracy / n,
		Relevance:    sum.Relevance / n,
		Completeness: sum.Completeness / n,
		Conciseness:  sum.Conciseness / n,
		Clarity:      sum.Clarity / n,
	}

	if n < 2 {
		return mean, RubricScores{}
	}

	var sq RubricScores
	for _, s := range samples {
		sq.Accuracy += (s.Accuracy - mean.Accuracy) * (s.Accuracy - mean.Accuracy)
		sq.Relevance += (s.Relevance - mean.Relevance) * (s.Relevance - mean.Relevance)
		sq.Completeness += (s.Completeness - mean.Completeness) * (s.Completeness - mean.Completeness)
		sq.Conciseness += (s.Conciseness - mean.Conciseness) * (s.Conciseness - mean.Conciseness)
		sq.Clarity += (s.Clarity - mean.Clarity) * (s.Clarity - mean.Clarity)
	}
	variance = RubricScores{
		Accuracy:     sq.Accuracy / n,
		Relevance:    sq.Relevance / n,
		Completeness: sq.Completeness / n,
		Conciseness:  sq.Conciseness / n,
		Clarity:      sq.Clarity / n,
	}
	return mean, variance
}

// overallVariance collapses a RubricScores variance struct into the single
// scalar ConfidenceScorer consumes (mean of the five per-dimension
// variances).
func overallVariance(v RubricScores) float64 {
	return (v.Accuracy + v.Relevance + v.Completeness + v.Conciseness + v.Clarity) / 5
}
