package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/catalog"
	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/planner"
)

// planPreviewRows caps the table for nationwide plans; the totals line
// always covers the full schedule.
const planPreviewRows = 50

var (
	planQuery       string
	planCountry     string
	planMinPop      int64
	planMaxPriority int
	planTarget      int
)

var scrapePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the area schedule and cost estimate without spending",
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

		policy, err := loadPolicy()
		if err != nil {
			return err
		}

		areas, err := st.ListAreas(ctx, planCountry)
		if err != nil {
			return eris.Wrap(err, "list areas")
		}
		if len(areas) == 0 {
			return eris.Errorf("no areas loaded for %s, run: prospector areas fetch", planCountry)
		}

		p := planner.New(planner.Config{
			YieldPerPage: cfg.Planner.YieldPerPage,
			SafetyFactor: cfg.Planner.SafetyFactor,
		}, cost.NewCalculator(cfg.Pricing))

		plan := p.Plan(model.JobSpec{
			Query:           planQuery,
			Country:         planCountry,
			MinPopulation:   planMinPop,
			MaxPriority:     planMaxPriority,
			TargetLeadCount: planTarget,
		}, catalog.New(policy, areas))

		formatPlan(os.Stdout, plan)
		return nil
	},
}

func init() {
	scrapePlanCmd.Flags().StringVar(&planQuery, "query", "", "search query the plan is for")
	scrapePlanCmd.Flags().StringVar(&planCountry, "country", "US", "country the areas belong to")
	scrapePlanCmd.Flags().Int64Var(&planMinPop, "min-population", 0, "skip areas below this population")
	scrapePlanCmd.Flags().IntVar(&planMaxPriority, "max-priority", 0, "skip tiers ranked below this priority (1=high, 3=low, 0=all)")
	scrapePlanCmd.Flags().IntVar(&planTarget, "target", 0, "stop after this many leads (0 = exhaust the plan)")
	scrapeCmd.AddCommand(scrapePlanCmd)
}

func formatPlan(out io.Writer, plan planner.Plan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AREA\tTIER\tPOPULATION\tPAGES")
	_, _ = fmt.Fprintln(w, "----\t----\t----------\t-----")

	shown := plan.Areas
	if len(shown) > planPreviewRows {
		shown = shown[:planPreviewRows]
	}
	for _, a := range shown {
		pop := "-"
		if a.Population != nil {
			pop = strconv.FormatInt(*a.Population, 10)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", a.Name, a.Tier, pop, a.PageBudget)
	}
	if hidden := len(plan.Areas) - len(shown); hidden > 0 {
		_, _ = fmt.Fprintf(w, "...\t\t\t(%d more areas)\n", hidden)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d areas, %d pages, ~%d leads, estimated cost $%.2f\n",
		len(plan.Areas), plan.TotalPages, plan.EstimatedLeads, plan.EstimatedCost)
}
