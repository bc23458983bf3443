package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/engine"
	"github.com/sells-group/prospector/internal/model"
)

var (
	scrapeClient      string
	scrapeQuery       string
	scrapeCountry     string
	scrapeMinPop      int64
	scrapeMaxPriority int
	scrapeTarget      int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Manage scrape jobs",
}

var scrapeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a scrape job and run it in the foreground",
	Long:  "Plans the query against the area catalog, runs the job to completion, and prints the final status. SIGINT checkpoints the job and parks it PAUSED.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Manager.Submit(ctx, model.JobSpec{
			ClientID:        scrapeClient,
			Query:           scrapeQuery,
			Country:         scrapeCountry,
			MinPopulation:   scrapeMinPop,
			MaxPriority:     scrapeMaxPriority,
			TargetLeadCount: scrapeTarget,
		})
		if err != nil {
			return err
		}

		if err := env.Manager.Start(ctx, job.ID); err != nil {
			return eris.Wrap(err, "start job")
		}

		// SIGINT cancels ctx and the executor parks the job PAUSED after
		// persisting its checkpoint, so the wait needs a fresh context.
		if err := env.Manager.Wait(context.Background(), job.ID); err != nil {
			return err
		}

		return reportFinal(env.Manager, job.ID)
	},
}

// reportFinal prints the job's terminal snapshot and maps a FAILED
// status to a command error.
func reportFinal(m *engine.Manager, jobID string) error {
	final, err := m.Status(context.Background(), jobID)
	if err != nil {
		return eris.Wrap(err, "load final status")
	}
	formatJobs(os.Stdout, []model.ScrapeJob{*final})

	switch final.Status {
	case model.JobStatusPaused:
		zap.L().Info("job paused, resume with: prospector scrape resume "+final.ID,
			zap.Int("leads_found", final.LeadsFound),
		)
	case model.JobStatusFailed:
		return eris.Errorf("job %s failed: %s", shortUUID(final.ID), final.LastError)
	}
	return nil
}

func init() {
	scrapeRunCmd.Flags().StringVar(&scrapeClient, "client", "", "client the leads belong to (required)")
	scrapeRunCmd.Flags().StringVar(&scrapeQuery, "query", "", "search query, e.g. \"plumber\" (required)")
	scrapeRunCmd.Flags().StringVar(&scrapeCountry, "country", "US", "country the areas belong to")
	scrapeRunCmd.Flags().Int64Var(&scrapeMinPop, "min-population", 0, "skip areas below this population")
	scrapeRunCmd.Flags().IntVar(&scrapeMaxPriority, "max-priority", 0, "skip tiers ranked below this priority (1=high, 3=low, 0=all)")
	scrapeRunCmd.Flags().IntVar(&scrapeTarget, "target", 0, "stop after this many leads (0 = exhaust the plan)")
	_ = scrapeRunCmd.MarkFlagRequired("client")
	_ = scrapeRunCmd.MarkFlagRequired("query")
	scrapeCmd.AddCommand(scrapeRunCmd)
	rootCmd.AddCommand(scrapeCmd)
}
