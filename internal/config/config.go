// Package config assembles a council.CouncilConfig from a YAML file layer
// and environment variable overrides. The engine itself (internal/council)
// never looks at the environment or the filesystem for configuration —
// spec.md §1 scopes "configuration file discovery" out of the engine — so
// this package is the one place that does, handed off to Orchestrator
// callers as a resolved struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"llm-council-engine/internal/council"
)

// File is the shape of the on-disk YAML config, mirroring spec.md §6's
// "Configuration keys recognized by the engine".
type File struct {
	CouncilModels       []string       `yaml:"council_models"`
	ChairmanModel       string         `yaml:"chairman_model"`
	NormalizerModel     string         `yaml:"normalizer_model"`
	Mode                string         `yaml:"mode"`
	ExcludeSelfVotes    *bool          `yaml:"exclude_self_votes"`
	StyleNormalization  *bool          `yaml:"style_normalization"`
	MaxReviewers        *int           `yaml:"max_reviewers"`
	ConfidenceThreshold *float64       `yaml:"confidence_threshold"`
	PerStageTimeoutMs   *StageTimeouts `yaml:"per_stage_timeout_ms"`
}

// StageTimeouts is the YAML shape of per_stage_timeout_ms ({s1,s2,s3}).
type StageTimeouts struct {
	S1 int `yaml:"s1"`
	S2 int `yaml:"s2"`
	S3 int `yaml:"s3"`
}

// envLocations mirrors the teacher's LoadConfig: try the current directory,
// then the parent, probing for a .env file rather than assuming one
// location.
var envLocations = []string{".env", "../.env"}

// OpenRouterAPIKey reads OPENROUTER_API_KEY from the environment, following
// the teacher's config.go convention of failing fast (as an error here,
// not log.Fatal, so library callers can decide how to surface it).
func OpenRouterAPIKey() (string, error) {
	key := os.Getenv("OPENROUTER_API_KEY")
	if key == "" {
		return "", fmt.Errorf("OPENROUTER_API_KEY environment variable is required")
	}
	return key, nil
}

// LoadEnv loads the first .env file found among envLocations, following the
// teacher's multi-location probe. It is not an error for none to exist —
// real deployments may supply everything via the process environment.
func LoadEnv() {
	for _, p := range envLocations {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			if err := godotenv.Load(abs); err == nil {
				return
			}
		}
	}
}

// Load reads path (if non-empty and it exists) as a YAML File, then layers
// environment variable overrides on top, and resolves the result into a
// validated council.CouncilConfig. Environment variables take precedence
// over the file, matching the teacher's pattern of env vars being the final
// authority (config.go's CORS_ALLOWED_ORIGINS override).
func Load(path string) (council.CouncilConfig, error) {
	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return council.CouncilConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &f); err != nil {
				return council.CouncilConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&f)

	cfg, err := resolve(f)
	if err != nil {
		return council.CouncilConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return council.CouncilConfig{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(f *File) {
	if v := os.Getenv("COUNCIL_MODELS"); v != "" {
		f.CouncilModels = splitCSV(v)
	}
	if v := os.Getenv("CHAIRMAN_MODEL"); v != "" {
		f.ChairmanModel = v
	}
	if v := os.Getenv("NORMALIZER_MODEL"); v != "" {
		f.NormalizerModel = v
	}
	if v := os.Getenv("COUNCIL_MODE"); v != "" {
		f.Mode = v
	}
	if v, ok := parseBoolEnv("EXCLUDE_SELF_VOTES"); ok {
		f.ExcludeSelfVotes = &v
	}
	if v, ok := parseBoolEnv("STYLE_NORMALIZATION"); ok {
		f.StyleNormalization = &v
	}
	if v := os.Getenv("MAX_REVIEWERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.MaxReviewers = &n
		}
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f.ConfidenceThreshold = &n
		}
	}
}

func parseBoolEnv(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolve(f File) (council.CouncilConfig, error) {
	models := make([]council.ModelId, len(f.CouncilModels))
	for i, m := range f.CouncilModels {
		models[i] = council.ModelId(m)
	}

	cfg := council.CouncilConfig{
		CouncilModels:      models,
		ChairmanModel:      council.ModelId(f.ChairmanModel),
		NormalizerModel:    council.ModelId(f.NormalizerModel),
		ExcludeSelfVotes:   boolOr(f.ExcludeSelfVotes, true),
		StyleNormalization: boolOr(f.StyleNormalization, false),
		MaxReviewers:       intOr(f.MaxReviewers, 0),
	}

	if f.PerStageTimeoutMs != nil {
		cfg.PerStageTimeout = council.StageTimeouts{
			Stage1: time.Duration(f.PerStageTimeoutMs.S1) * time.Millisecond,
			Stage2: time.Duration(f.PerStageTimeoutMs.S2) * time.Millisecond,
			Stage3: time.Duration(f.PerStageTimeoutMs.S3) * time.Millisecond,
		}
	}

	return cfg, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// ConfidenceThresholdOr returns f's confidence_threshold, or fallback if the
// file/env didn't set one. Exposed separately since confidence_threshold
// belongs to Query, not CouncilConfig (spec.md §3).
func ConfidenceThresholdOr(path string, fallback float64) float64 {
	var f File
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &f)
		}
	}
	applyEnvOverrides(&f)
	if f.ConfidenceThreshold != nil {
		return *f.ConfidenceThreshold
	}
	return fallback
}

// ModeOr returns f's mode, or fallback if the file/env didn't set one.
// Exposed separately since mode belongs to Query, not CouncilConfig
// (spec.md §3).
func ModeOr(path string, fallback council.Mode) council.Mode {
	var f File
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &f)
		}
	}
	applyEnvOverrides(&f)
	if f.Mode != "" {
		return council.Mode(f.Mode)
	}
	return fallback
}
