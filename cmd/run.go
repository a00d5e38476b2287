// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/config"
	"github.com/fieldworkhq/fieldwork/internal/knowledge"
	"github.com/fieldworkhq/fieldwork/internal/ledger"
	"github.com/fieldworkhq/fieldwork/internal/llmclient"
	"github.com/fieldworkhq/fieldwork/internal/observability"
	"github.com/fieldworkhq/fieldwork/internal/orchestrator"
	"github.com/fieldworkhq/fieldwork/internal/store"
	"github.com/fieldworkhq/fieldwork/internal/trail"
	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

var planFile string

// engagementPlan is the YAML document the run command executes: which agents
// to field, their goals, and which phase approvals the engagement lead has
// already granted.
type engagementPlan struct {
	RunID     string `yaml:"run_id"`
	Approvals []struct {
		Phase    string `yaml:"phase"`
		Approver string `yaml:"approver"`
		Comments string `yaml:"comments"`
	} `yaml:"approvals"`
	Assignments []orchestrator.Assignment `yaml:"assignments"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an engagement plan with autonomous audit agents.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := observability.GetLogger()

		plan, err := loadPlan(planFile)
		if err != nil {
			return err
		}

		library := knowledge.Empty()
		if dir := cfg.Knowledge.Dir; dir != "" {
			if _, statErr := os.Stat(dir); statErr == nil {
				library, err = knowledge.Load(dir, logger)
				if err != nil {
					return err
				}
			}
		}

		llm, err := llmclient.NewClient(cfg.Agent, logger)
		if err != nil {
			return err
		}
		defer llm.Close()

		tr := trail.New(logger)
		gates := workflow.New(logger, tr)
		l := ledger.New(logger, tr, gates)
		o := orchestrator.New(cfg, logger, tr, l, gates, llm, library)

		for _, approval := range plan.Approvals {
			if err := gates.Approve(schemas.Phase(approval.Phase), approval.Approver, approval.Comments); err != nil {
				return fmt.Errorf("pre-granted approval failed: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := o.Run(ctx, plan.Assignments)
		if err != nil {
			return err
		}
		printSummary(cmd, summary)

		if cfg.Database.URL != "" {
			if err := persistRun(ctx, cfg, logger, plan.RunID, o); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&planFile, "plan", "p", "engagement.yaml", "engagement plan file")
	rootCmd.AddCommand(runCmd)
}

func loadPlan(path string) (*engagementPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engagement plan: %w", err)
	}
	var plan engagementPlan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse engagement plan: %w", err)
	}
	if len(plan.Assignments) == 0 {
		return nil, fmt.Errorf("engagement plan has no assignments")
	}
	if plan.RunID == "" {
		plan.RunID = uuid.NewString()
	}
	return &plan, nil
}

func printSummary(cmd *cobra.Command, summary orchestrator.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Engagement finished: %d agents (%d completed, %d blocked, %d failed)\n",
		summary.Total(), len(summary.Completed), len(summary.Blocked), len(summary.Failed))
	for _, outcome := range summary.Completed {
		fmt.Fprintf(out, "  complete  %-12s %d iterations\n", outcome.Agent, outcome.Iterations)
	}
	for _, outcome := range summary.Blocked {
		fmt.Fprintf(out, "  blocked   %-12s %d iterations\n", outcome.Agent, outcome.Iterations)
	}
	for _, outcome := range summary.Failed {
		fmt.Fprintf(out, "  failed    %-12s %v\n", outcome.Agent, outcome.Err)
	}
}

func persistRun(ctx context.Context, cfg *config.Config, logger *zap.Logger, runID string, o *orchestrator.Orchestrator) error {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database pool: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := st.PersistTrail(ctx, runID, o.Trail().All()); err != nil {
		return err
	}
	if err := st.PersistTasks(ctx, runID, o.Ledger().All()); err != nil {
		return err
	}
	logger.Info("Run persisted", zap.String("run_id", runID))
	return nil
}
