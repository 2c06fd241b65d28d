package models

import (
	"fmt"
	"strings"
	"time"
)

// DetailLevel is the quality/cost tradeoff knob passed to the vision model.
type DetailLevel string

const (
	DetailLow  DetailLevel = "low"
	DetailHigh DetailLevel = "high"
)

// Concurrency bounds enforced at job submission time.
const (
	MinConcurrency = 1
	MaxConcurrency = 100
)

// JobConfig is the configuration snapshot taken when a job is created.
// It is immutable for the lifetime of the job.
type JobConfig struct {
	Model              string        `json:"model"`
	Detail             DetailLevel   `json:"detail"`
	Concurrency        int           `json:"concurrency"`
	Timeout            time.Duration `json:"timeout"`
	MaxRetries         int           `json:"max_retries"`
	IncludeFailedPages bool          `json:"include_failed_pages"`
}

// Job is one document-conversion request spanning multiple pages.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Pages     []PageTask `json:"-"`
	Config    JobConfig  `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
}

// TotalPages returns the number of pages in the job.
func (j *Job) TotalPages() int {
	return len(j.Pages)
}

// ValidationError reports a bad job configuration. It is returned
// synchronously from job submission before any work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job config: %s %s", e.Field, e.Reason)
}

// Validate checks the job against the submission-time constraints.
func (j *Job) Validate() error {
	if len(j.Pages) == 0 {
		return &ValidationError{Field: "pages", Reason: "list is empty"}
	}
	if c := j.Config.Concurrency; c < MinConcurrency || c > MaxConcurrency {
		return &ValidationError{Field: "concurrency", Reason: fmt.Sprintf("%d is outside %d..%d", c, MinConcurrency, MaxConcurrency)}
	}
	if j.Config.Detail != DetailLow && j.Config.Detail != DetailHigh {
		return &ValidationError{Field: "detail", Reason: fmt.Sprintf("%q is not low or high", j.Config.Detail)}
	}
	if j.Config.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Reason: "is negative"}
	}
	return nil
}

// PageTask is one page's unit of work within a job. The raw image bytes are
// produced by the rasterizer and owned by the pipeline for the task's lifetime.
type PageTask struct {
	JobID string
	Index int
	Image []byte
}

// FailureKind classifies a terminal page failure.
type FailureKind string

const (
	FailureContentRejected  FailureKind = "content_rejected"
	FailureRetriesExhausted FailureKind = "retries_exhausted"
	FailureTimeout          FailureKind = "timeout"
	FailureUnknown          FailureKind = "unknown"
)

// PageOutcome is the resolved result of one PageTask. Exactly one outcome is
// produced per task, including after retries are exhausted.
type PageOutcome struct {
	Index   int         `json:"index"`
	Content string      `json:"content,omitempty"`
	Failed  bool        `json:"failed"`
	Kind    FailureKind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SuccessOutcome builds a successful outcome for a page.
func SuccessOutcome(index int, content string) PageOutcome {
	return PageOutcome{Index: index, Content: content}
}

// FailureOutcome builds a terminal-failure outcome for a page.
func FailureOutcome(index int, kind FailureKind, message string) PageOutcome {
	return PageOutcome{Index: index, Failed: true, Kind: kind, Message: message}
}

// JobResult is the per-document outcome delivered once every page resolves.
// Contents are ordered by page index regardless of completion order. When
// failed pages are omitted from Contents, len(Contents)+Failed equals the
// total page count.
type JobResult struct {
	JobID     string         `json:"job_id"`
	Contents  []string       `json:"contents"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  map[int]string `json:"failures,omitempty"`
}

// Markdown joins the ordered page contents into a single document.
func (r *JobResult) Markdown() string {
	return strings.Join(r.Contents, "\n\n")
}
