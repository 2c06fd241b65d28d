package pipeline

import (
	"fmt"

	"github.com/mmacy/modul8r/models"
)

// Assembler errors are internal invariant violations, not user-facing
// failures: the pipeline guarantees exactly one outcome per page index.
var (
	ErrDuplicateOutcome  = fmt.Errorf("duplicate outcome for page index")
	ErrOutcomeOutOfRange = fmt.Errorf("outcome index outside job range")
)

// Assembler reduces the per-page outcome stream of one job into a single
// ordered JobResult. A failed page is recorded and the job continues, so a
// partial result can still be delivered.
type Assembler struct {
	jobID         string
	total         int
	outcomes      []models.PageOutcome
	seen          []bool
	received      int
	includeFailed bool
}

// NewAssembler creates an assembler for one job.
func NewAssembler(job *models.Job) *Assembler {
	total := job.TotalPages()
	return &Assembler{
		jobID:         job.ID,
		total:         total,
		outcomes:      make([]models.PageOutcome, total),
		seen:          make([]bool, total),
		includeFailed: job.Config.IncludeFailedPages,
	}
}

// Add records one page outcome. It is an invariant violation to add an
// outcome for an index twice or for an index outside the job's range.
func (a *Assembler) Add(outcome models.PageOutcome) error {
	if outcome.Index < 0 || outcome.Index >= a.total {
		return fmt.Errorf("%w: index %d, total %d", ErrOutcomeOutOfRange, outcome.Index, a.total)
	}
	if a.seen[outcome.Index] {
		return fmt.Errorf("%w: index %d", ErrDuplicateOutcome, outcome.Index)
	}
	a.seen[outcome.Index] = true
	a.outcomes[outcome.Index] = outcome
	a.received++
	return nil
}

// Complete reports whether every page has resolved.
func (a *Assembler) Complete() bool {
	return a.received == a.total
}

// Result builds the final page-index-ordered result. Depending on the
// include-failed policy, failed pages appear as an inline marker or are
// omitted from the content sequence; counts are recorded either way.
func (a *Assembler) Result() *models.JobResult {
	result := &models.JobResult{
		JobID:    a.jobID,
		Contents: make([]string, 0, a.total),
	}
	for _, outcome := range a.outcomes {
		if outcome.Failed {
			result.Failed++
			if result.Failures == nil {
				result.Failures = make(map[int]string)
			}
			result.Failures[outcome.Index] = fmt.Sprintf("%s: %s", outcome.Kind, outcome.Message)
			if a.includeFailed {
				result.Contents = append(result.Contents,
					fmt.Sprintf("<!-- page %d failed (%s): %s -->", outcome.Index+1, outcome.Kind, outcome.Message))
			}
			continue
		}
		result.Succeeded++
		result.Contents = append(result.Contents, outcome.Content)
	}
	return result
}

// Collect drains the outcome channel until every page has resolved and
// returns the assembled result.
func (a *Assembler) Collect(outcomes <-chan models.PageOutcome) (*models.JobResult, error) {
	for outcome := range outcomes {
		if err := a.Add(outcome); err != nil {
			return nil, err
		}
	}
	if !a.Complete() {
		return nil, fmt.Errorf("outcome stream closed after %d of %d pages", a.received, a.total)
	}
	return a.Result(), nil
}
