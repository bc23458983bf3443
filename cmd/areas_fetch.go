package main

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/fetcher"
	"github.com/sells-group/prospector/internal/ingest"
)

var areasFetchURL string

var areasFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download an area reference file and load it",
	Long:  "Downloads a census-style reference file over HTTP or FTP, unpacks it if zipped, and loads its areas. The default URL and column flags match the census sub-est city population file.",
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
			return err
		}

		rawURL := areasFetchURL
		if rawURL == "" {
			rawURL = cfg.Catalog.SourceURL
		}
		if rawURL == "" {
			return eris.New("no URL given and catalog.source_url is not set")
		}

		var f fetcher.Fetcher
		if strings.HasPrefix(rawURL, "ftp://") {
			f = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: 60 * time.Second})
		} else {
			f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Minute})
		}

		tempDir, err := os.MkdirTemp("", "prospector-areas-")
		if err != nil {
			return eris.Wrap(err, "create temp dir")
		}
		defer os.RemoveAll(tempDir) //nolint:errcheck

		_, err = ingest.Fetch(ctx, st, f, rawURL, ingestOptions(cmd), tempDir)
		return err
	},
}

func init() {
	areasFetchCmd.Flags().StringVar(&areasFetchURL, "url", "", "reference file URL (default from config)")
	addIngestFlags(areasFetchCmd, "POPESTIMATE2024", "SUMLEV", "162")
	areasCmd.AddCommand(areasFetchCmd)
}
