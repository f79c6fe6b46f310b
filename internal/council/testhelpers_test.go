package council

func mkLabelMap(models ...ModelId) LabelMap {
	lm := LabelMap{ModelToLabel: map[ModelId]Label{}, LabelToModel: map[Label]ModelId{}}
	for i, m := range models {
		l := labelForIndex(i)
		lm.ModelToLabel[m] = l
		lm.LabelToModel[l] = m
	}
	return lm
}

func succeededRanking(reviewer ModelId, ordering []Label, rubric map[Label]RubricScores) StageResult[Ranking] {
	r := Ranking{Reviewer: reviewer, Ordering: ordering, Rubric: rubric}
	return StageResult[Ranking]{Model: reviewer, Value: &r}
}
