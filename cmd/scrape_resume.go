package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scrapeResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or interrupted job from its checkpoint",
	Long:  "Restarts the job from its last durable checkpoint. The in-flight area is refetched from page 1; dedup makes the replay free of duplicate leads.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := args[0]
		if err := env.Manager.Resume(ctx, jobID); err != nil {
			return err
		}
		if err := env.Manager.Wait(context.Background(), jobID); err != nil {
			return err
		}

		return reportFinal(env.Manager, jobID)
	},
}

func init() {
	scrapeCmd.AddCommand(scrapeResumeCmd)
}
