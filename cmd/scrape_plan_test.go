package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/planner"
)

func TestFormatPlan_SmallPlan(t *testing.T) {
	pop := int64(120000)
	plan := planner.Plan{
		Areas: []model.PlannedArea{
			{Name: "Springfield", Country: "US", Population: &pop, Tier: model.TierHigh, PageBudget: 10},
			{Name: "Shelbyville", Country: "US", Tier: model.TierMedium, PageBudget: 5},
		},
		TotalPages:     15,
		EstimatedLeads: 300,
		EstimatedCost:  0.48,
	}

	var buf bytes.Buffer
	formatPlan(&buf, plan)

	output := buf.String()
	assert.Contains(t, output, "AREA")
	assert.Contains(t, output, "Springfield")
	assert.Contains(t, output, "high")
	assert.Contains(t, output, "120000")
	assert.Contains(t, output, "2 areas, 15 pages, ~300 leads, estimated cost $0.48")

	// Areas without a population figure render a dash.
	var shelbyLine string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Shelbyville") {
			shelbyLine = line
		}
	}
	assert.Contains(t, shelbyLine, "-")
}

func TestFormatPlan_TruncatesLongSchedules(t *testing.T) {
	plan := planner.Plan{TotalPages: 200, EstimatedLeads: 4000, EstimatedCost: 6.40}
	for i := 0; i < planPreviewRows+25; i++ {
		plan.Areas = append(plan.Areas, model.PlannedArea{
			Name: fmt.Sprintf("Town %03d", i), Country: "US", Tier: model.TierLow, PageBudget: 2,
		})
	}

	var buf bytes.Buffer
	formatPlan(&buf, plan)

	output := buf.String()
	assert.Contains(t, output, "Town 000")
	assert.Contains(t, output, "(25 more areas)")
	assert.NotContains(t, output, "Town 074")
	assert.Contains(t, output, "75 areas")
}
