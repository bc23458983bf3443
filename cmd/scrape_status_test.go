package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospector/internal/model"
)

func TestFormatJobs_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatJobs(&buf, nil)

	output := buf.String()
	// The header survives even with no rows.
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "CLIENT")
	assert.Contains(t, output, "LEADS")
}

func TestFormatJobs_SingleJob(t *testing.T) {
	jobs := []model.ScrapeJob{
		{
			ID:             "3f2a9c1e-8b4d-4e6f-9a2b-1c3d5e7f9a0b",
			ClientID:       "client-a",
			Query:          "plumber",
			Status:         model.JobStatusRunning,
			AreasCompleted: 12,
			AreasTotal:     120,
			LeadsFound:     480,
			CostEstimate:   3.841,
		},
	}

	var buf bytes.Buffer
	formatJobs(&buf, jobs)

	output := buf.String()
	assert.Contains(t, output, "3f2a9c1e")
	assert.NotContains(t, output, "8b4d-4e6f")
	assert.Contains(t, output, "client-a")
	assert.Contains(t, output, "plumber")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "12/120")
	assert.Contains(t, output, "480")
	assert.Contains(t, output, "$3.84")
}

func TestFormatJobs_TruncatesLongError(t *testing.T) {
	jobs := []model.ScrapeJob{
		{
			ID:        "deadbeef-0000-0000-0000-000000000000",
			ClientID:  "client-a",
			Query:     "plumber",
			Status:    model.JobStatusFailed,
			LastError: strings.Repeat("provider exploded ", 10),
		},
	}

	var buf bytes.Buffer
	formatJobs(&buf, jobs)

	output := buf.String()
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, strings.Repeat("provider exploded ", 10))
}

func TestShortUUID(t *testing.T) {
	assert.Equal(t, "3f2a9c1e", shortUUID("3f2a9c1e-8b4d-4e6f-9a2b-1c3d5e7f9a0b"))
	assert.Equal(t, "short", shortUUID("short"))
	assert.Equal(t, "", shortUUID(""))
}
