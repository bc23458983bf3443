package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/export"
	"github.com/sells-group/prospector/pkg/notion"
)

var (
	exportTo       string
	exportOut      string
	exportClient   string
	exportArea     string
	exportQuery    string
	exportPageSize int
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Work with stored leads",
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored leads to CSV, Notion, or Salesforce",
	Long:  "Streams a client's leads from the store into the chosen destination. Notion and Salesforce exports are idempotent: rows already present are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
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

		sink, err := buildSink(ctx)
		if err != nil {
			return err
		}

		summary, err := export.Run(ctx, st, sink, cost.NewCalculator(cfg.Pricing), export.Options{
			ClientID: exportClient,
			AreaName: exportArea,
			Query:    exportQuery,
			PageSize: exportPageSize,
		})
		cerr := sink.Close()
		if err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func buildSink(ctx context.Context) (export.Sink, error) {
	switch exportTo {
	case "csv":
		out := exportOut
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, "leads.csv")
		}
		return export.NewCSVSink(out)
	case "notion":
		if cfg.Notion.Token == "" || cfg.Notion.LeadDB == "" {
			return nil, eris.New("notion.token and notion.lead_db are required for notion export")
		}
		nc := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
		return export.NewNotionSink(ctx, nc, cfg.Notion.LeadDB)
	case "salesforce":
		sf, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return export.NewSalesforceSink(sf, cfg.Salesforce.BatchSize), nil
	default:
		return nil, eris.Errorf("unknown export target %q (csv, notion, salesforce)", exportTo)
	}
}

func init() {
	leadsExportCmd.Flags().StringVar(&exportTo, "to", "csv", "export target: csv, notion, or salesforce")
	leadsExportCmd.Flags().StringVar(&exportOut, "out", "", "CSV output path (default <export.dir>/leads.csv)")
	leadsExportCmd.Flags().StringVar(&exportClient, "client", "", "client whose leads to export (required)")
	leadsExportCmd.Flags().StringVar(&exportArea, "area", "", "only leads found in this area")
	leadsExportCmd.Flags().StringVar(&exportQuery, "query", "", "only leads found by this query")
	leadsExportCmd.Flags().IntVar(&exportPageSize, "page-size", 0, "store read batch size")
	_ = leadsExportCmd.MarkFlagRequired("client")
	leadsCmd.AddCommand(leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}
