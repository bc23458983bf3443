package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/ingest"
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Manage the area catalog",
	Long:  "Loads named areas with population figures from census-style reference files. Jobs are planned against this catalog.",
}

var areasLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load areas from a local CSV, TSV, or XLSX file",
	Args:  cobra.ExactArgs(1),
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

		_, err = ingest.LoadFile(ctx, st, args[0], ingestOptions(cmd))
		return err
	},
}

// addIngestFlags registers the column-mapping flags shared by the load
// and fetch commands. Defaults differ per command, matching a generic
// header for local files and the census sub-est layout for the default
// fetch URL.
func addIngestFlags(c *cobra.Command, popCol, filterCol, filterVal string) {
	c.Flags().String("country", "US", "country code stamped on rows without one")
	c.Flags().String("name-col", "NAME", "column holding the area name")
	c.Flags().String("pop-col", popCol, "column holding the population figure")
	c.Flags().String("country-col", "", "column holding a per-row country code")
	c.Flags().String("filter-col", filterCol, "keep only rows where this column matches --filter-val")
	c.Flags().String("filter-val", filterVal, "value --filter-col must match")
	c.Flags().String("sheet", "", "XLSX sheet name (default first)")
	c.Flags().Int("skip-rows", 0, "XLSX rows to skip before the header")
	c.Flags().Bool("keep-suffix", false, "keep census place-type suffixes on names")
	c.Flags().String("member", "", "file to extract when a fetched archive holds several")
}

func ingestOptions(cmd *cobra.Command) ingest.Options {
	f := cmd.Flags()
	country, _ := f.GetString("country")
	nameCol, _ := f.GetString("name-col")
	popCol, _ := f.GetString("pop-col")
	countryCol, _ := f.GetString("country-col")
	filterCol, _ := f.GetString("filter-col")
	filterVal, _ := f.GetString("filter-val")
	sheet, _ := f.GetString("sheet")
	skipRows, _ := f.GetInt("skip-rows")
	keepSuffix, _ := f.GetBool("keep-suffix")
	member, _ := f.GetString("member")

	return ingest.Options{
		Country:    country,
		NameCol:    nameCol,
		PopCol:     popCol,
		CountryCol: countryCol,
		FilterCol:  filterCol,
		FilterVal:  filterVal,
		SheetName:  sheet,
		SkipRows:   skipRows,
		KeepSuffix: keepSuffix,
		Member:     member,
	}
}

func init() {
	addIngestFlags(areasLoadCmd, "POPULATION", "", "")
	areasCmd.AddCommand(areasLoadCmd)
	rootCmd.AddCommand(areasCmd)
}
