// -- cmd/trail.go --
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/fieldworkhq/fieldwork/internal/observability"
	"github.com/fieldworkhq/fieldwork/internal/store"
)

var (
	trailRunID  string
	trailAgent  string
	trailAction string
)

var trailCmd = &cobra.Command{
	Use:   "trail",
	Short: "Query a persisted audit trail.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is not configured; nothing was persisted")
		}
		logger := observability.GetLogger()

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database pool: %w", err)
		}
		defer pool.Close()

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return err
		}

		entries, err := st.LoadTrail(ctx, trailRunID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		shown := 0
		for _, e := range entries {
			if trailAgent != "" && e.Agent != trailAgent {
				continue
			}
			if trailAction != "" && string(e.Action) != trailAction {
				continue
			}
			shown++
			fmt.Fprintf(out, "%s  #%-4d %-12s %-28s %s\n",
				e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Seq, e.Agent, e.Action, e.Description)
			if e.Rationale != "" {
				fmt.Fprintf(out, "%36s rationale: %s\n", "", e.Rationale)
			}
		}
		fmt.Fprintf(out, "%d entries\n", shown)
		return nil
	},
}

func init() {
	trailCmd.Flags().StringVar(&trailRunID, "run-id", "", "run to inspect")
	trailCmd.Flags().StringVar(&trailAgent, "agent", "", "filter by agent")
	trailCmd.Flags().StringVar(&trailAction, "action", "", "filter by action")
	trailCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(trailCmd)
}
