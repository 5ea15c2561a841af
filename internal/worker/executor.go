// Package worker runs review work for jobs and reports progress back to the
// scheduler. The only executor shipped today simulates the work with
// timers and a canned payload.
package worker

import "github.com/reviewgate/reviewgate/internal/job"

// Outcome is the terminal report for a job. Exactly one of Result and Err
// is set.
type Outcome struct {
	Result *job.ReviewResult
	Err    string
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.Result == nil }

// Reporter receives executor progress. Both methods identify the job by ID
// only; the job may no longer exist when they are called.
type Reporter interface {
	Started(id string)
	Finished(id string, outcome Outcome)
}

// Executor performs the review for j and reports to r. Execute must not
// block; progress is reported asynchronously.
type Executor interface {
	Execute(j job.Job, r Reporter)
}
