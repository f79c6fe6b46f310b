package council

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TranscriptWriter persists one deliberation's full record as five JSON
// files under a per-request directory, in creation order, each written
// atomically (write to a temp file, fsync, rename) so a reader never
// observes a half-written file. This generalizes the teacher's
// SaveConversation (MarshalIndent + WriteFile) with the atomic-rename and
// multi-file shape spec.md §4.10 requires.
type TranscriptWriter struct {
	RootDir string
}

// TranscriptRequest is the content of request.json, the first of spec.md
// §4.10's five files. The other four are written from the engine's own
// values (stage results, the Synthesis, and any value for result.json):
// the engine decides what goes in each file, the writer only guarantees
// atomic delivery to disk.
type TranscriptRequest struct {
	Query    Query    `json:"query"`
	Config   CouncilConfig `json:"config"`
	LabelMap LabelMap `json:"label_map"`
}

// NewRequestDir creates a fresh, collision-free directory for one
// deliberation, named {iso8601}-{short-id} per spec.md §4.10.
func (w TranscriptWriter) NewRequestDir(now time.Time) (string, error) {
	if err := os.MkdirAll(w.RootDir, 0755); err != nil {
		return "", fmt.Errorf("create transcript root: %w", err)
	}

	base := fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), shortID())
	dir := filepath.Join(w.RootDir, base)

	for suffix := 0; ; suffix++ {
		candidate := dir
		if suffix > 0 {
			candidate = fmt.Sprintf("%s-%d", dir, suffix)
		}
		if err := os.Mkdir(candidate, 0755); err == nil {
			return candidate, nil
		} else if !os.IsExist(err) {
			return "", fmt.Errorf("create transcript dir: %w", err)
		}
	}
}

func shortID() string {
	id := uuid.New().String()
	return id[:8]
}

// WriteRequest, WriteStage1, WriteStage2, WriteStage3, and WriteResult write
// the five transcript files in the creation order spec.md §4.10 mandates.
// Each call is independently atomic; callers are expected to invoke them in
// order as each stage completes so a crash mid-deliberation leaves a
// truncated-but-never-corrupt transcript.
func (w TranscriptWriter) WriteRequest(dir string, v TranscriptRequest) error {
	return atomicWriteJSON(filepath.Join(dir, "request.json"), v)
}

func (w TranscriptWriter) WriteStage1(dir string, v []StageResult[string]) error {
	return atomicWriteJSON(filepath.Join(dir, "stage1.json"), stageResultsToWire(v))
}

func (w TranscriptWriter) WriteStage2(dir string, v []StageResult[Ranking]) error {
	return atomicWriteJSON(filepath.Join(dir, "stage2.json"), stageResultsToWire(v))
}

func (w TranscriptWriter) WriteStage3(dir string, v *Synthesis) error {
	return atomicWriteJSON(filepath.Join(dir, "stage3.json"), v)
}

func (w TranscriptWriter) WriteResult(dir string, v any) error {
	return atomicWriteJSON(filepath.Join(dir, "result.json"), v)
}

// stageWireResult flattens a StageResult into a JSON-friendly shape: the
// generic Value/Error union doesn't marshal cleanly otherwise.
type stageWireResult struct {
	Model     ModelId        `json:"model"`
	Value     any            `json:"value,omitempty"`
	Error     *CouncilError  `json:"error,omitempty"`
	LatencyMs int64          `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

func stageResultsToWire[T any](results []StageResult[T]) []stageWireResult {
	out := make([]stageWireResult, len(results))
	for i, r := range results {
		w := stageWireResult{
			Model:     r.Model,
			Error:     r.Error,
			LatencyMs: r.LatencyMs,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
		}
		if r.Value != nil {
			w.Value = *r.Value
		}
		out[i] = w
	}
	return out
}

// atomicWriteJSON marshals v with indentation and writes it to path via a
// temp-file-then-rename so readers never see a partial file.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("marshal %s: %w", filepath.Base(path), err))
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return newErr(ErrTranscriptWriteError, "transcript", "", fmt.Errorf("rename %s into place: %w", filepath.Base(path), err))
	}
	return nil
}
