package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/venue-research/internal/model"
)

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	finished := now.Add(2 * time.Minute)
	jobs := []model.ResearchJob{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			PlaceID:    "place-lisbon",
			Trigger:    model.TriggerManual,
			State:      model.JobStateComplete,
			Usage:      model.TokenUsage{Cost: 0.0812},
			CreatedAt:  now,
			UpdatedAt:  finished,
			FinishedAt: &finished,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			PlaceID:   "place-porto",
			Trigger:   model.TriggerScheduled,
			State:     model.JobStatePassB,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "PLACE")
	assert.Contains(t, output, "STATE")
	assert.Contains(t, output, "place-lisbon")
	assert.Contains(t, output, "COMPLETE")
	assert.Contains(t, output, "place-porto")
	assert.Contains(t, output, "PASS_B")
	assert.Contains(t, output, "$0.0812")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2m0s")
}

func TestFormatJobsList_LongPlaceTruncated(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.ResearchJob{{
		ID:        "1",
		PlaceID:   "place-with-a-very-long-identifier-0001",
		State:     model.JobStateError,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)
	assert.Contains(t, buf.String(), "place-with-a-very-long-iden...")
}

func TestComputeJobStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	done1 := now.Add(60 * time.Second)
	done2 := now.Add(120 * time.Second)

	jobs := []model.ResearchJob{
		{State: model.JobStateComplete, CreatedAt: now, FinishedAt: &done1, Usage: model.TokenUsage{Cost: 0.10}},
		{State: model.JobStateComplete, CreatedAt: now, FinishedAt: &done2, Usage: model.TokenUsage{Cost: 0.20}},
		{State: model.JobStateValidationFailed, Usage: model.TokenUsage{Cost: 0.05}},
		{State: model.JobStateError},
		{State: model.JobStateResolving},
	}

	s := computeJobStats(jobs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.ValidationFailed)
	assert.Equal(t, 1, s.Error)
	assert.Equal(t, 1, s.InFlight)
	assert.InDelta(t, 0.35, s.CostUSD, 1e-9)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 1e-9)
}

func TestComputeJobStats_Empty(t *testing.T) {
	s := computeJobStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestFormatJobStats(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, jobStats{Total: 4, Complete: 2, ValidationFailed: 1, Error: 1, CostUSD: 1.5, AvgDurSecs: 42})

	output := buf.String()
	assert.Contains(t, output, "Total jobs:")
	assert.Contains(t, output, "Validation failed:")
	assert.Contains(t, output, "$1.50")
	assert.Contains(t, output, "42.0s")
}

func TestFormatJobStats_NoDuration(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, jobStats{Total: 1, InFlight: 1})
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatConflicts(t *testing.T) {
	delta := 0.4
	results := []model.CrossReferenceResult{
		{
			JobID:            "abc12345-0000",
			EntityID:         "v2",
			Relationship:     model.RelationshipConflict,
			TagAgreement:     0.1,
			ScoreDelta:       &delta,
			MergedConfidence: 0.42,
			MergedTags:       []string{"nightlife", "cocktail_bar"},
			NeedsReview:      true,
		},
		{
			JobID:          "def12345-0000",
			EntityID:       "v9",
			Relationship:   model.RelationshipConflict,
			ReviewDecision: "accepted",
		},
	}

	var buf bytes.Buffer
	formatConflicts(&buf, results)

	output := buf.String()
	assert.Contains(t, output, "ENTITY")
	assert.Contains(t, output, "v2")
	assert.Contains(t, output, "0.40")
	assert.Contains(t, output, "flagged")
	assert.Contains(t, output, "nightlife,cocktail_bar")
	assert.Contains(t, output, "accepted")
}
