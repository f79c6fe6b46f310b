// Command council is the CLI collaborator for the deliberation engine
// (spec.md §1 "The HTTP/SSE server surface and CLI ... thin wrappers
// around the engine"). It has no teacher analogue — the teacher ships no
// CLI at all — so its shape is grounded in the pack's spf13/cobra usage
// (dopejs-GoZen's cmd/root.go: cobra.Command with RunE, flags bound via
// StringVarP/BoolVarP).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"llm-council-engine/internal/config"
	"llm-council-engine/internal/council"
	"llm-council-engine/internal/modelcaller"
)

var (
	promptFlag         string
	modeFlag           string
	verdictFlag        bool
	thresholdFlag      float64
	includeDetailsFlag bool
	configPathFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Run a council deliberation from the command line",
	Long:  "Dispatch a query to a council of models, collect peer rankings, and print the synthesized result.",
	RunE:  runDeliberate,
}

func init() {
	rootCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "the question to put to the council (required)")
	rootCmd.Flags().StringVarP(&modeFlag, "mode", "m", "consensus", "deliberation mode: consensus or debate")
	rootCmd.Flags().BoolVar(&verdictFlag, "verdict", false, "request a binary PASS/FAIL/UNCLEAR verdict")
	rootCmd.Flags().Float64Var(&thresholdFlag, "threshold", 0.7, "confidence threshold for a PASS verdict")
	rootCmd.Flags().BoolVar(&includeDetailsFlag, "include-details", false, "include the full stage1/stage2 arrays in the output")
	rootCmd.Flags().StringVarP(&configPathFlag, "config", "c", "", "path to a council config YAML file")
	rootCmd.MarkFlagRequired("prompt")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
}

func runDeliberate(cmd *cobra.Command, args []string) error {
	config.LoadEnv()

	apiKey, err := config.OpenRouterAPIKey()
	if err != nil {
		os.Exit(3)
		return err
	}

	cfg, err := config.Load(configPathFlag)
	if err != nil {
		os.Exit(3)
		return err
	}

	verdictType := council.VerdictTypeNone
	if verdictFlag {
		verdictType = council.VerdictTypeBinary
	}

	// --mode and --threshold fall back to the config file/environment when
	// the user didn't pass them explicitly, since both belong to Query
	// rather than CouncilConfig and so aren't covered by config.Load.
	mode := council.Mode(modeFlag)
	if !cmd.Flags().Changed("mode") {
		mode = config.ModeOr(configPathFlag, mode)
	}
	threshold := thresholdFlag
	if !cmd.Flags().Changed("threshold") {
		threshold = config.ConfidenceThresholdOr(configPathFlag, threshold)
	}

	query := council.Query{
		Prompt:              promptFlag,
		Mode:                mode,
		VerdictType:         verdictType,
		ConfidenceThreshold: threshold,
		IncludeDetails:      includeDetailsFlag,
	}
	if err := council.ValidateQuery(query); err != nil {
		os.Exit(3)
		return err
	}

	caller := &modelcaller.OpenRouterCaller{APIKey: apiKey}
	transcriptRoot := os.Getenv("COUNCIL_TRANSCRIPT_DIR")
	if transcriptRoot == "" {
		transcriptRoot = ".council/logs"
	}

	orch := &council.Orchestrator{
		Caller:     caller,
		Config:     cfg,
		Bus:        council.NewEventBus(),
		Transcript: council.TranscriptWriter{RootDir: transcriptRoot},
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestCeiling(cfg))
	defer cancel()

	result, err := orch.Run(ctx, query, uuid.New().String(), time.Now())
	if err != nil {
		var fatal *council.FatalError
		if asFatal(err, &fatal) {
			fmt.Fprintf(os.Stderr, "council error: %s (request %s)\n", fatal.Kind, fatal.RequestID)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(3)
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		os.Exit(3)
		return err
	}
	fmt.Println(string(encoded))

	// Exit codes per spec.md §6 "verify mode": 0=PASS, 1=FAIL, 2=UNCLEAR.
	if query.VerdictType == council.VerdictTypeBinary && result.Verdict != nil {
		switch *result.Verdict {
		case council.VerdictPass:
			os.Exit(0)
		case council.VerdictFail:
			os.Exit(1)
		case council.VerdictUnclear:
			os.Exit(2)
		}
	}
	os.Exit(0)
	return nil
}

// requestCeiling derives the hard wall-clock ceiling for one deliberation:
// sum(stage timeouts) + 5s grace, per spec.md §5. An unset stage timeout
// counts as the default that stage itself falls back to (60s, 90s, 90s).
func requestCeiling(cfg council.CouncilConfig) time.Duration {
	orDefault := func(d, fallback time.Duration) time.Duration {
		if d > 0 {
			return d
		}
		return fallback
	}
	t := cfg.PerStageTimeout
	total := orDefault(t.Stage1, 60*time.Second) + orDefault(t.Stage2, 90*time.Second) + orDefault(t.Stage3, 90*time.Second)
	return total + 5*time.Second
}

func asFatal(err error, target **council.FatalError) bool {
	fe, ok := err.(*council.FatalError)
	if ok {
		*target = fe
	}
	return ok
}
