package council

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"llm-council-engine/internal/modelcaller"
)

// routingCaller distinguishes Stage 1 / Stage 2 / Stage 3 calls by prompt
// shape rather than by a fixed per-model script, since a real council model
// plays all three roles across one deliberation and a flat model->Script map
// (as faketest.Caller uses) can't express that. Stage 2's ranking prompt is
// always wrapped in <<<RESPONSE X BEGIN>>> sentinels (stage2.go's
// rankingPromptText), so that's the discriminator; anything else is either a
// Stage 1 response or the chairman's Stage 3 synthesis, keyed by model.
// Labels are read only from sentinels that start a line, so the literal
// "<<<RESPONSE X BEGIN>>>" in the prompt's instruction text is not taken for
// a label.
type routingCaller struct {
	stage1   map[string]string
	failing  map[string]error
	chairman string
	chairText string
}

var sentinelRe = regexp.MustCompile(`(?m)^<<<RESPONSE (\S+) BEGIN>>>`)

func (c *routingCaller) Call(ctx context.Context, model, prompt string, timeout time.Duration) (string, time.Duration, error) {
	if err, ok := c.failing[model]; ok {
		return "", 0, err
	}

	if strings.Contains(prompt, "<<<RESPONSE") {
		matches := sentinelRe.FindAllStringSubmatch(prompt, -1)
		labels := make([]string, 0, len(matches))
		seen := make(map[string]bool, len(matches))
		for _, m := range matches {
			if !seen[m[1]] {
				seen[m[1]] = true
				labels = append(labels, m[1])
			}
		}
		return validRankingJSON(labels, labels), 0, nil
	}

	if model == c.chairman {
		return c.chairText, 0, nil
	}

	text, ok := c.stage1[model]
	if !ok {
		return "", 0, fmt.Errorf("routingCaller: no stage1 script for model %q", model)
	}
	return text, 0, nil
}

func validRankingJSON(ranking []string, labels []string) string {
	scores := `{`
	for i, l := range labels {
		if i > 0 {
			scores += ","
		}
		scores += `"` + l + `":{"accuracy":7,"relevance":7,"completeness":7,"conciseness":7,"clarity":7}`
	}
	scores += `}`

	arr := `[`
	for i, r := range ranking {
		if i > 0 {
			arr += ","
		}
		arr += `"` + r + `"`
	}
	arr += `]`

	return `{"ranking": ` + arr + `, "scores": ` + scores + `}`
}

func baseConfig() CouncilConfig {
	return CouncilConfig{
		CouncilModels:    []ModelId{"m1", "m2", "m3"},
		ChairmanModel:    "mc",
		ExcludeSelfVotes: true,
		PerStageTimeout:  StageTimeouts{Stage1: time.Second, Stage2: time.Second, Stage3: time.Second},
	}
}

// TestOrchestratorHappyPath exercises spec.md §8 scenario S1: all three
// council models respond, all three rankings parse, the chairman
// synthesizes, and the transcript + result envelope come back complete.
func TestOrchestratorHappyPath(t *testing.T) {
	caller := &routingCaller{
		stage1:   map[string]string{"m1": "ans1", "m2": "ans2", "m3": "ans3"},
		chairman: "mc",
		chairText: "Synthesized final answer.",
	}

	root := t.TempDir()
	orch := &Orchestrator{
		Caller:     caller,
		Config:     baseConfig(),
		Bus:        NewEventBus(),
		Transcript: TranscriptWriter{RootDir: root},
	}

	query := Query{Prompt: "what should we do?", Mode: ModeConsensus, IncludeDetails: true}
	result, err := orch.Run(context.Background(), query, "req-1", time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Stage1Count != 3 {
		t.Fatalf("Stage1Count = %d, want 3", result.Stage1Count)
	}
	if len(result.Aggregate) != 3 {
		t.Fatalf("len(Aggregate) = %d, want 3", len(result.Aggregate))
	}
	if result.FinalResponse != "Synthesized final answer." {
		t.Fatalf("FinalResponse = %q", result.FinalResponse)
	}
	if result.TranscriptDir == "" {
		t.Fatalf("expected a transcript directory to be recorded")
	}
}

// TestOrchestratorOneModelTimesOut exercises spec.md §8 scenario S2: m2
// times out in Stage 1, Stage 2 runs over the 2 survivors, no fatal error.
func TestOrchestratorOneModelTimesOut(t *testing.T) {
	caller := &routingCaller{
		stage1:   map[string]string{"m1": "ans1", "m3": "ans3"},
		failing:  map[string]error{"m2": &modelcaller.CallError{Kind: modelcaller.FailureTimeout, Model: "m2", Err: context.DeadlineExceeded}},
		chairman: "mc",
		chairText: "final",
	}

	root := t.TempDir()
	orch := &Orchestrator{
		Caller:     caller,
		Config:     baseConfig(),
		Bus:        NewEventBus(),
		Transcript: TranscriptWriter{RootDir: root},
	}

	query := Query{Prompt: "q", Mode: ModeConsensus}
	result, err := orch.Run(context.Background(), query, "req-2", time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Stage1Count != 2 {
		t.Fatalf("Stage1Count = %d, want 2 (one model timed out)", result.Stage1Count)
	}
}

// TestOrchestratorInsufficientRespondersIsFatal exercises spec.md §8
// scenario S6: only one model succeeds in Stage 1, the engine must return a
// fatal error and never run Stage 2/3.
func TestOrchestratorInsufficientRespondersIsFatal(t *testing.T) {
	caller := &routingCaller{
		stage1:   map[string]string{"m1": "ans1"},
		failing:  map[string]error{"m2": errBoom, "m3": errBoom},
		chairman: "mc",
		chairText: "should never be called",
	}

	root := t.TempDir()
	orch := &Orchestrator{
		Caller:     caller,
		Config:     baseConfig(),
		Bus:        NewEventBus(),
		Transcript: TranscriptWriter{RootDir: root},
	}

	query := Query{Prompt: "q", Mode: ModeConsensus}
	_, err := orch.Run(context.Background(), query, "req-3", time.Now())
	if err == nil {
		t.Fatal("expected a fatal error with only 1 successful responder")
	}
	fatal, ok := err.(*FatalError)
	if !ok {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if fatal.Kind != ErrInsufficientResponders {
		t.Fatalf("fatal.Kind = %v, want ErrInsufficientResponders", fatal.Kind)
	}
}

func TestOrchestratorEmitsLifecycleEvents(t *testing.T) {
	caller := &routingCaller{
		stage1:   map[string]string{"m1": "ans1", "m2": "ans2", "m3": "ans3"},
		chairman: "mc",
		chairText: "final",
	}

	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe("req-4")
	defer unsubscribe()

	root := t.TempDir()
	orch := &Orchestrator{Caller: caller, Config: baseConfig(), Bus: bus, Transcript: TranscriptWriter{RootDir: root}}

	go func() {
		_, _ = orch.Run(context.Background(), Query{Prompt: "q", Mode: ModeConsensus}, "req-4", time.Now())
	}()

	// All three reviewers return a valid ranking, so three vote_cast events
	// precede stage2.complete.
	wantOrder := []EventKind{EventDeliberationStart, EventStage1Complete, EventVoteCast, EventVoteCast, EventVoteCast, EventStage2Complete, EventStage3Complete, EventComplete}
	for _, want := range wantOrder {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before observing %v", want)
			}
			if ev.Kind != want {
				t.Fatalf("got event %v, want %v", ev.Kind, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}
