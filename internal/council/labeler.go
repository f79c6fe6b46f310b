package council

import (
	"crypto/rand"
	"math/big"
)

// AnonymizationLabeler maps models to opaque per-request labels (§4.2).
// Stage 2 prompts must reference only labels; delabel is used only after
// Stage 2 parsing to recover the ModelId behind a reviewer's ranking.
type AnonymizationLabeler struct{}

// Label shuffles council into a random LabelMap using a cryptographic RNG
// (determinism is not an invariant here — only that the mapping ends up
// recorded in the transcript, per spec.md §3).
func (AnonymizationLabeler) Label(council []ModelId) (LabelMap, error) {
	order := make([]ModelId, len(council))
	copy(order, council)

	for i := len(order) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return LabelMap{}, err
		}
		order[i], order[j] = order[j], order[i]
	}

	m := LabelMap{
		ModelToLabel: make(map[ModelId]Label, len(order)),
		LabelToModel: make(map[Label]ModelId, len(order)),
	}
	for i, id := range order {
		l := labelForIndex(i)
		m.ModelToLabel[id] = l
		m.LabelToModel[l] = id
	}
	return m, nil
}

func randInt(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// labelForIndex turns a 0-based index into a spreadsheet-style label: A..Z,
// then AA, AB, ... This is this spec's resolution of an edge spec.md leaves
// open (councils larger than 26 models); see DESIGN.md.
func labelForIndex(i int) Label {
	if i < 26 {
		return Label(rune('A' + i))
	}
	// Two-letter labels, 0-based: index 26 -> "AA", 27 -> "AB", ...
	i -= 26
	first := rune('A' + i/26)
	second := rune('A' + i%26)
	return Label([]rune{first, second})
}
