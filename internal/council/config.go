package council

import "fmt"

// Validate checks a CouncilConfig against spec.md §3's invariants before the
// Orchestrator accepts a query (ConfigInvalid, spec.md §7 "rejected before
// Stage 1"). This has no direct teacher analogue — the teacher's config.go
// never validates, it only loads — but the fail-fast-before-work shape
// mirrors the teacher's LoadConfig aborting via log.Fatal when
// OPENROUTER_API_KEY is missing, redirected here into a returned error so
// library callers aren't forced to exit the process.
func (c CouncilConfig) Validate() error {
	if len(c.CouncilModels) < 2 {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("council_models must have at least 2 entries, got %d", len(c.CouncilModels)))
	}

	seen := make(map[ModelId]bool, len(c.CouncilModels))
	for _, m := range c.CouncilModels {
		if m == "" {
			return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("council_models must not contain an empty ModelId"))
		}
		if seen[m] {
			return newErr(ErrConfigInvalid, "config", m, fmt.Errorf("council_models contains duplicate %q", m))
		}
		seen[m] = true
	}

	if c.ChairmanModel == "" {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("chairman_model is required"))
	}

	if c.StyleNormalization && c.NormalizerModel == "" {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("style_normalization requires a normalizer_model"))
	}

	if c.MaxReviewers < 0 {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("max_reviewers must be >= 0, got %d", c.MaxReviewers))
	}

	if c.ConfidenceWeights != nil {
		w := c.ConfidenceWeights
		sum := w.Rank + w.Rubric + w.Spread
		if sum < 0.99 || sum > 1.01 {
			return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("confidence weights must sum to 1.0, got %.3f", sum))
		}
	}

	return nil
}

// ValidateQuery checks a Query against spec.md §3's invariants.
func ValidateQuery(q Query) error {
	if q.Prompt == "" {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("prompt must not be empty"))
	}
	if q.Mode != ModeConsensus && q.Mode != ModeDebate {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("mode must be %q or %q, got %q", ModeConsensus, ModeDebate, q.Mode))
	}
	if q.VerdictType != VerdictTypeNone && q.VerdictType != VerdictTypeBinary {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("verdict_type must be %q or %q, got %q", VerdictTypeNone, VerdictTypeBinary, q.VerdictType))
	}
	if q.ConfidenceThreshold < 0 || q.ConfidenceThreshold > 1 {
		return newErr(ErrConfigInvalid, "config", "", fmt.Errorf("confidence_threshold must be in [0,1], got %v", q.ConfidenceThreshold))
	}
	return nil
}
