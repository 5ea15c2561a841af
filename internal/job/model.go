package job

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity tags a single review comment.
type Severity string

const (
	SeverityInfo       Severity = "info"
	SeverityWarning    Severity = "warning"
	SeverityError      Severity = "error"
	SeveritySuggestion Severity = "suggestion"
)

// ReviewComment is one finding. A comment with neither FilePath nor Line
// applies to the pull request as a whole.
type ReviewComment struct {
	FilePath *string  `json:"filePath,omitempty"`
	Line     *int     `json:"line,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ReviewResult is the payload attached to a completed job.
type ReviewResult struct {
	Summary  string          `json:"summary"`
	Comments []ReviewComment `json:"comments"`
}

// ReviewContext identifies the pull request iteration under review.
type ReviewContext struct {
	OrganizationURL string `json:"organizationUrl"`
	ProjectID       string `json:"projectId"`
	RepositoryID    string `json:"repositoryId"`
	PullRequestID   int    `json:"pullRequestId"`
	IterationID     int    `json:"iterationId"`
}

// Job is a review job. ID, SubmittedAt and the embedded ReviewContext never
// change after creation.
type Job struct {
	ID     string `json:"jobId"`
	Status Status `json:"status"`
	ReviewContext
	SubmittedAt time.Time     `json:"submittedAt"`
	CompletedAt *time.Time    `json:"completedAt"`
	Result      *ReviewResult `json:"result"`
	Error       *string       `json:"error"`
}

// Clone returns a copy that shares no mutable state with j. Result is
// treated as immutable and is shared.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// CreateRequest is the payload used to submit a new review. Every field is
// required; pointers distinguish absent or null from zero values.
type CreateRequest struct {
	OrganizationURL *string `json:"organizationUrl"`
	ProjectID       *string `json:"projectId"`
	RepositoryID    *string `json:"repositoryId"`
	PullRequestID   *int    `json:"pullRequestId"`
	IterationID     *int    `json:"iterationId"`

	// invalid names fields that were present but could not be converted.
	invalid []string
}

// UnmarshalJSON decodes each field on its own so one badly typed value
// does not discard the rest. Integral numbers such as 7.0 and numeric
// strings such as "7" are accepted for the integer fields; numbers are
// accepted for the string fields.
func (r *CreateRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CreateRequest{}
	r.OrganizationURL = r.stringField(raw, "organizationUrl")
	r.ProjectID = r.stringField(raw, "projectId")
	r.RepositoryID = r.stringField(raw, "repositoryId")
	r.PullRequestID = r.intField(raw, "pullRequestId")
	r.IterationID = r.intField(raw, "iterationId")
	return nil
}

// presentField returns the raw value of name unless it is absent or null.
func presentField(raw map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (r *CreateRequest) stringField(raw map[string]json.RawMessage, name string) *string {
	v, ok := presentField(raw, name)
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		s = n.String()
		return &s
	}
	r.invalid = append(r.invalid, name)
	return nil
}

func (r *CreateRequest) intField(raw map[string]json.RawMessage, name string) *int {
	v, ok := presentField(raw, name)
	if !ok {
		return nil
	}
	// json.Number also accepts a quoted string holding a valid number.
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if i, ok := integral(n.String()); ok {
			return &i
		}
	}
	r.invalid = append(r.invalid, name)
	return nil
}

// integral parses s as an integer, allowing float notation without a
// fractional part.
func integral(s string) (int, bool) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

// ValidationError lists the required fields missing from a CreateRequest
// and those present with a value that cannot be used.
type ValidationError struct {
	Fields  []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Fields) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(e.Fields, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "Invalid field values: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Validate returns a *ValidationError naming every absent field, in
// request order, followed by any field whose value had the wrong type.
func (r *CreateRequest) Validate() error {
	var missing []string
	if r.OrganizationURL == nil && !r.isInvalid("organizationUrl") {
		missing = append(missing, "organizationUrl")
	}
	if r.ProjectID == nil && !r.isInvalid("projectId") {
		missing = append(missing, "projectId")
	}
	if r.RepositoryID == nil && !r.isInvalid("repositoryId") {
		missing = append(missing, "repositoryId")
	}
	if r.PullRequestID == nil && !r.isInvalid("pullRequestId") {
		missing = append(missing, "pullRequestId")
	}
	if r.IterationID == nil && !r.isInvalid("iterationId") {
		missing = append(missing, "iterationId")
	}
	if len(missing) > 0 || len(r.invalid) > 0 {
		return &ValidationError{Fields: missing, Invalid: r.invalid}
	}
	return nil
}

func (r *CreateRequest) isInvalid(name string) bool {
	return slices.Contains(r.invalid, name)
}

// Context converts a validated request. It panics if Validate would fail.
func (r *CreateRequest) Context() ReviewContext {
	return ReviewContext{
		OrganizationURL: *r.OrganizationURL,
		ProjectID:       *r.ProjectID,
		RepositoryID:    *r.RepositoryID,
		PullRequestID:   *r.PullRequestID,
		IterationID:     *r.IterationID,
	}
}
