package api

import (
	"time"

	"github.com/reviewgate/reviewgate/internal/job"
)

// jobSummary is the list view of a job: everything but result and error.
type jobSummary struct {
	ID     string     `json:"jobId"`
	Status job.Status `json:"status"`
	job.ReviewContext
	SubmittedAt time.Time  `json:"submittedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

func summarize(j *job.Job) jobSummary {
	return jobSummary{
		ID:            j.ID,
		Status:        j.Status,
		ReviewContext: j.ReviewContext,
		SubmittedAt:   j.SubmittedAt,
		CompletedAt:   j.CompletedAt,
	}
}
