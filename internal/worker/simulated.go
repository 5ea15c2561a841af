package worker

import (
	"fmt"
	"time"

	"github.com/reviewgate/reviewgate/internal/clock"
	"github.com/reviewgate/reviewgate/internal/job"
)

// Mode selects the outcome of simulated work.
type Mode string

const (
	ModeSuccess Mode = "success"
	ModeFail    Mode = "fail"
)

// maxStartDelay caps how long a job stays pending.
const maxStartDelay = 2 * time.Second

// StartDelay returns when a job leaves pending for a given total delay:
// 33% of the total, capped at two seconds. It is always <= total.
func StartDelay(total time.Duration) time.Duration {
	return min(total*33/100, maxStartDelay)
}

// Simulated arms two one-shot timers per job: Started at StartDelay and
// Finished at TotalDelay, both measured from Execute.
type Simulated struct {
	clock      clock.Clock
	totalDelay time.Duration
	mode       Mode
}

// NewSimulated returns an executor that finishes every job after
// totalDelay with the outcome selected by mode.
func NewSimulated(clk clock.Clock, totalDelay time.Duration, mode Mode) *Simulated {
	return &Simulated{clock: clk, totalDelay: totalDelay, mode: mode}
}

func (s *Simulated) Execute(j job.Job, r Reporter) {
	id := j.ID
	rc := j.ReviewContext
	s.clock.AfterFunc(StartDelay(s.totalDelay), func() {
		r.Started(id)
	})
	s.clock.AfterFunc(s.totalDelay, func() {
		r.Finished(id, s.outcome(rc))
	})
}

func (s *Simulated) outcome(rc job.ReviewContext) Outcome {
	if s.mode == ModeFail {
		return Outcome{Err: fmt.Sprintf(
			"Simulated review failure: the reviewer could not analyze pull request #%d (iteration %d)",
			rc.PullRequestID, rc.IterationID)}
	}
	return Outcome{Result: CannedReview(rc)}
}
