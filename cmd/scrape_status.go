package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

var (
	statusFilter string
	statusClient string
	statusLimit  int
)

var scrapeStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show scrape job status",
	Long:  "Display job progress including areas completed, leads found, and cost estimate. With a job ID, also shows the durable checkpoint.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("plan"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if len(args) == 1 {
			job, err := st.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			formatJobs(os.Stdout, []model.ScrapeJob{*job})

			cp, err := st.LoadCheckpoint(ctx, job.ID)
			if err != nil {
				return eris.Wrap(err, "load checkpoint")
			}
			if cp != nil {
				_, _ = fmt.Fprintf(os.Stdout, "\ncheckpoint: area_index=%d page=%d leads_found=%d updated=%s\n",
					cp.AreaIndex, cp.Page, cp.LeadsFound, cp.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		}

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status:   model.JobStatus(statusFilter),
			ClientID: statusClient,
			Limit:    statusLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}
		if len(jobs) == 0 {
			zap.L().Info("no jobs found")
			return nil
		}

		formatJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	scrapeStatusCmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending, running, paused, completed, failed)")
	scrapeStatusCmd.Flags().StringVar(&statusClient, "client", "", "filter by client")
	scrapeStatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum jobs to list")
	scrapeCmd.AddCommand(scrapeStatusCmd)
}

func formatJobs(out io.Writer, jobs []model.ScrapeJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCLIENT\tQUERY\tSTATUS\tAREAS\tLEADS\tCOST\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t------\t-----\t-----\t----\t-----")

	for _, j := range jobs {
		errMsg := j.LastError
		if len(errMsg) > 50 {
			errMsg = errMsg[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t$%.2f\t%s\n",
			shortUUID(j.ID),
			j.ClientID,
			j.Query,
			j.Status,
			j.AreasCompleted,
			j.AreasTotal,
			j.LeadsFound,
			j.CostEstimate,
			errMsg,
		)
	}
	_ = w.Flush()
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
