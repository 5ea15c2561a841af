package worker

import (
	"fmt"

	"github.com/reviewgate/reviewgate/internal/job"
)

func comment(file string, line int, sev job.Severity, msg string) job.ReviewComment {
	c := job.ReviewComment{Severity: sev, Message: msg}
	if file != "" {
		c.FilePath = &file
	}
	if line > 0 {
		c.Line = &line
	}
	return c
}

// CannedReview builds the fixed review payload returned by simulated work.
// Only the summary depends on rc.
func CannedReview(rc job.ReviewContext) *job.ReviewResult {
	comments := []job.ReviewComment{
		comment("/src/index.ts", 42, job.SeverityWarning,
			"Possible null dereference: 'user' may be undefined when the session has expired."),
		comment("/src/api/client.ts", 88, job.SeverityError,
			"Request errors are swallowed here; propagate them so callers can retry or report."),
		comment("/src/utils/format.ts", 17, job.SeveritySuggestion,
			"This formatting logic is duplicated in two places; consider a shared helper."),
		comment("/package.json", 0, job.SeverityInfo,
			"Dependency versions are pinned, which keeps builds reproducible."),
		comment("", 0, job.SeverityInfo,
			"Overall the change is well structured. Consider adding tests for the new error paths."),
	}
	return &job.ReviewResult{
		Summary: fmt.Sprintf("Reviewed pull request #%d (iteration %d) in repository %s: %d comments.",
			rc.PullRequestID, rc.IterationID, rc.RepositoryID, len(comments)),
		Comments: comments,
	}
}
