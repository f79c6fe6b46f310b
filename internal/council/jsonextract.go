package council

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// extractJSONObject scans text for the first balanced {...} object, tolerant
// of markdown code fences and leading/trailing prose a model may wrap its
// answer in. It skips braces that occur inside string literals so a quoted
// "}" in a response body cannot prematurely close the scan. This is this
// engine's replacement for the teacher's regex-based "FINAL RANKING:" scan
// (spec.md §4.6 REDESIGN FLAG), grounded in the pack's
// billie-coop-loco extractJSONObject/extractJSONArray helpers.
func extractJSONObject(text string) []byte {
	return extractBalanced(text, '{', '}')
}

func extractBalanced(text string, open, close byte) []byte {
	cleaned := stripCodeFences(text)

	start := strings.IndexByte(cleaned, open)
	if start < 0 {
		return nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, ignore structural bytes
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return []byte(cleaned[start : i+1])
			}
		}
	}
	return nil
}

func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	var b strings.Builder
	for i, p := range parts {
		if i%2 == 1 {
			// Inside a fence; drop a leading language tag line if present.
			if nl := strings.IndexByte(p, '\n'); nl >= 0 {
				firstLine := strings.TrimSpace(p[:nl])
				if firstLine != "" && !strings.ContainsAny(firstLine, "{}[]\"") {
					p = p[nl+1:]
				}
			}
		}
		b.WriteString(p)
	}
	return b.String()
}

// wireRanking is the JSON shape a reviewer is asked to emit.
type wireRanking struct {
	Ranking []string                  `json:"ranking"`
	Scores  map[string]wireRubric `json:"scores"`
}

type wireRubric struct {
	Accuracy     json.Number `json:"accuracy"`
	Relevance    json.Number `json:"relevance"`
	Completeness json.Number `json:"completeness"`
	Conciseness  json.Number `json:"conciseness"`
	Clarity      json.Number `json:"clarity"`
}

func decodeRanking(raw []byte, reviewer ModelId) (*Ranking, error) {
	var w wireRanking
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode ranking JSON: %w", err)
	}
	if len(w.Ranking) == 0 {
		return nil, fmt.Errorf("ranking array is empty")
	}

	ordering := make([]Label, len(w.Ranking))
	for i, s := range w.Ranking {
		ordering[i] = Label(strings.TrimSpace(s))
	}

	rubric := make(map[Label]RubricScores, len(w.Scores))
	for labelStr, s := range w.Scores {
		rubric[Label(strings.TrimSpace(labelStr))] = RubricScores{
			Accuracy:     numOrZero(s.Accuracy),
			Relevance:    numOrZero(s.Relevance),
			Completeness: numOrZero(s.Completeness),
			Conciseness:  numOrZero(s.Conciseness),
			Clarity:      numOrZero(s.Clarity),
		}.clamp()
	}

	return &Ranking{Reviewer: reviewer, Ordering: ordering, Rubric: rubric}, nil
}

func numOrZero(n json.Number) float64 {
	if n == "" {
		return 0
	}
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
