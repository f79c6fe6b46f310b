package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"llm-council-engine/internal/council"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{"COUNCIL_MODELS", "CHAIRMAN_MODEL", "NORMALIZER_MODEL", "COUNCIL_MODE", "EXCLUDE_SELF_VOTES", "STYLE_NORMALIZATION", "MAX_REVIEWERS", "CONFIDENCE_THRESHOLD", "OPENROUTER_API_KEY"}
	saved := make(map[string]string, len(keys))
	for _, k := range keys {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			if saved[k] != "" {
				os.Setenv(k, saved[k])
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	yamlContent := `
council_models:
  - m1
  - m2
  - m3
chairman_model: m1
max_reviewers: 2
per_stage_timeout_ms:
  s1: 30000
  s2: 60000
  s3: 60000
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.CouncilModels) != 3 {
		t.Fatalf("CouncilModels = %v, want 3 entries", cfg.CouncilModels)
	}
	if cfg.ChairmanModel != "m1" {
		t.Fatalf("ChairmanModel = %q, want m1", cfg.ChairmanModel)
	}
	if cfg.MaxReviewers != 2 {
		t.Fatalf("MaxReviewers = %d, want 2", cfg.MaxReviewers)
	}
	if cfg.PerStageTimeout.Stage1 != 30*time.Second {
		t.Fatalf("PerStageTimeout.Stage1 = %v, want 30s", cfg.PerStageTimeout.Stage1)
	}
	if !cfg.ExcludeSelfVotes {
		t.Fatal("ExcludeSelfVotes should default to true")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	yamlContent := `
council_models: [m1, m2]
chairman_model: m1
max_reviewers: 1
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	os.Setenv("COUNCIL_MODELS", "x1,x2,x3")
	os.Setenv("CHAIRMAN_MODEL", "x1")
	os.Setenv("MAX_REVIEWERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.CouncilModels) != 3 || cfg.CouncilModels[0] != "x1" {
		t.Fatalf("CouncilModels = %v, want env override [x1 x2 x3]", cfg.CouncilModels)
	}
	if cfg.ChairmanModel != "x1" {
		t.Fatalf("ChairmanModel = %q, want env override x1", cfg.ChairmanModel)
	}
	if cfg.MaxReviewers != 2 {
		t.Fatalf("MaxReviewers = %d, want env override 2", cfg.MaxReviewers)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	os.Setenv("COUNCIL_MODELS", "m1,m2")
	os.Setenv("CHAIRMAN_MODEL", "m1")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.CouncilModels) != 2 {
		t.Fatalf("CouncilModels = %v, want env-supplied values", cfg.CouncilModels)
	}
}

func TestLoadRejectsInvalidResolvedConfig(t *testing.T) {
	clearEnv(t)
	// Only one council model and no chairman: council.Validate() must reject.
	os.Setenv("COUNCIL_MODELS", "m1")

	if _, err := Load(""); err == nil {
		t.Fatal("expected Load to surface council.CouncilConfig.Validate()'s error")
	}
}

func TestOpenRouterAPIKeyRequired(t *testing.T) {
	clearEnv(t)
	if _, err := OpenRouterAPIKey(); err == nil {
		t.Fatal("expected an error when OPENROUTER_API_KEY is unset")
	}

	os.Setenv("OPENROUTER_API_KEY", "abc123")
	key, err := OpenRouterAPIKey()
	if err != nil {
		t.Fatalf("OpenRouterAPIKey: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("key = %q, want abc123", key)
	}
}

func TestConfidenceThresholdOrFallsBackWhenUnset(t *testing.T) {
	clearEnv(t)
	if got := ConfidenceThresholdOr("", 0.65); got != 0.65 {
		t.Fatalf("ConfidenceThresholdOr = %v, want fallback 0.65", got)
	}

	os.Setenv("CONFIDENCE_THRESHOLD", "0.9")
	if got := ConfidenceThresholdOr("", 0.65); got != 0.9 {
		t.Fatalf("ConfidenceThresholdOr = %v, want env override 0.9", got)
	}
}

func TestModeOrFallsBackWhenUnset(t *testing.T) {
	clearEnv(t)
	if got := ModeOr("", council.ModeConsensus); got != council.ModeConsensus {
		t.Fatalf("ModeOr = %v, want fallback ModeConsensus", got)
	}

	os.Setenv("COUNCIL_MODE", "debate")
	if got := ModeOr("", council.ModeConsensus); got != council.ModeDebate {
		t.Fatalf("ModeOr = %v, want env override ModeDebate", got)
	}
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	got := splitCSV(" a, b ,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitCSV = %v, want %v", got, want)
		}
	}
}
