package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/memory"
	"github.com/dockvault/dockpilot/internal/adapter/outbound/sqlite"
	"github.com/dockvault/dockpilot/internal/config"
	"github.com/dockvault/dockpilot/internal/domain/agent"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate -f scenario.yaml",
	Short: "Evaluate actions from a file without side effects",
	Long: `Evaluate proposed actions against an autonomy configuration and feedback
history, printing each verdict with its confidence and justification.
Nothing is executed, queued or journaled.

The scenario file may set the configuration and seed feedback:

  config:
    autonomy_level: semi-autonomous
    auto_execute_threshold: {low: true}
  feedback:
    - category: file_upload
      verdict: approved
      count: 6
  actions:
    - category: file_upload
      impact: low
      title: Upload ligand batch 12

Without a config section, the agent section of the config file is used.
With --db, feedback is read from a dockpilot SQLite database instead.

Examples:
  dockpilot evaluate -f scenario.yaml
  dockpilot evaluate -f scenario.yaml --db dockpilot.db --json`,
	RunE: runEvaluate,
}

var (
	evalFile string
	evalDB   string
	evalJSON bool
)

func init() {
	evaluateCmd.Flags().StringVarP(&evalFile, "file", "f", "", "scenario file (\"-\" for stdin)")
	evaluateCmd.Flags().StringVar(&evalDB, "db", "", "read feedback history from this SQLite database")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print results as JSON")
	_ = evaluateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(evaluateCmd)
}

// scenario is the input of "dockpilot evaluate".
type scenario struct {
	Config   *agent.Config  `yaml:"config"`
	Feedback []feedbackSeed `yaml:"feedback"`
	Actions  []agent.Action `yaml:"actions"`
}

// feedbackSeed records Count identical feedback entries.
type feedbackSeed struct {
	Category agent.Category        `yaml:"category"`
	Verdict  agent.FeedbackVerdict `yaml:"verdict"`
	Count    int                   `yaml:"count"`
}

// evaluation is one line of "dockpilot evaluate" output.
type evaluation struct {
	ActionID        string         `json:"action_id" yaml:"action_id"`
	Title           string         `json:"title,omitempty" yaml:"title,omitempty"`
	Category        agent.Category `json:"category" yaml:"category"`
	Impact          agent.Impact   `json:"impact" yaml:"impact"`
	Verdict         agent.Verdict  `json:"verdict" yaml:"verdict"`
	Confidence      float64        `json:"confidence" yaml:"confidence"`
	ApprovalRate    float64        `json:"approval_rate" yaml:"approval_rate"`
	History         int            `json:"historical_actions" yaml:"historical_actions"`
	LearnedFromPast bool           `json:"learned_from_past" yaml:"learned_from_past"`
	Justification   string         `json:"justification" yaml:"justification"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	in, err := openScenario(evalFile)
	if err != nil {
		return err
	}
	defer in.Close()

	sc, err := decodeScenario(in)
	if err != nil {
		return err
	}

	if sc.Config == nil {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		c := cfg.Agent.ToDomain()
		sc.Config = &c
	}

	var store agent.FeedbackStore = memory.NewFeedbackStore()
	if evalDB != "" {
		if len(sc.Feedback) > 0 {
			return fmt.Errorf("scenario feedback and --db are mutually exclusive")
		}
		s, err := sqlite.OpenFeedbackStore(evalDB)
		if err != nil {
			return fmt.Errorf("failed to open feedback database: %w", err)
		}
		store = s
	}
	defer store.Close()

	results, err := evaluateScenario(cmd.Context(), sc, store)
	if err != nil {
		return err
	}
	return writeEvaluations(cmd.OutOrStdout(), results, evalJSON)
}

func openScenario(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	return f, nil
}

func decodeScenario(r io.Reader) (*scenario, error) {
	var sc scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Actions) == 0 {
		return nil, fmt.Errorf("scenario has no actions")
	}
	return &sc, nil
}

// evaluateScenario seeds store with the scenario feedback and evaluates
// every action in order. Seeded feedback goes through the engine so later
// records get the same weighting as live feedback.
func evaluateScenario(ctx context.Context, sc *scenario, store agent.FeedbackStore) ([]evaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	engine := agent.NewEngine(sc.Config, store)

	for i, seed := range sc.Feedback {
		n := seed.Count
		if n <= 0 {
			n = 1
		}
		for j := 0; j < n; j++ {
			if _, err := engine.RecordFeedback(ctx, seed.Category, seed.Verdict, nil); err != nil {
				return nil, fmt.Errorf("feedback[%d]: %w", i, err)
			}
		}
	}

	results := make([]evaluation, 0, len(sc.Actions))
	for i, action := range sc.Actions {
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		d, err := engine.Evaluate(ctx, action)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		results = append(results, evaluation{
			ActionID:        action.ID,
			Title:           action.Title,
			Category:        action.Category,
			Impact:          action.Impact,
			Verdict:         d.Verdict,
			Confidence:      d.Confidence,
			ApprovalRate:    d.Pattern.ApprovalRate,
			History:         d.Pattern.HistoricalActions,
			LearnedFromPast: d.LearnedFromPast,
			Justification:   d.Justification,
		})
	}
	return results, nil
}

func writeEvaluations(w io.Writer, results []evaluation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(results); err != nil {
		return err
	}
	return enc.Close()
}
