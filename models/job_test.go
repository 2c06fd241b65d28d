package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *Job {
	return &Job{
		ID:    "job-1",
		Pages: []PageTask{{JobID: "job-1", Index: 0, Image: []byte{0x1}}},
		Config: JobConfig{
			Model:       "gpt-4.1-nano",
			Detail:      DetailHigh,
			Concurrency: 3,
		},
	}
}

func TestJobValidate(t *testing.T) {
	require.NoError(t, validJob().Validate())

	tests := []struct {
		name   string
		mutate func(*Job)
		field  string
	}{
		{"empty pages", func(j *Job) { j.Pages = nil }, "pages"},
		{"concurrency below floor", func(j *Job) { j.Config.Concurrency = 0 }, "concurrency"},
		{"concurrency above ceiling", func(j *Job) { j.Config.Concurrency = 101 }, "concurrency"},
		{"bad detail", func(j *Job) { j.Config.Detail = "medium" }, "detail"},
		{"negative retries", func(j *Job) { j.Config.MaxRetries = -1 }, "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := validJob()
			tt.mutate(job)
			err := job.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestJobConcurrencyBoundsInclusive(t *testing.T) {
	job := validJob()
	job.Config.Concurrency = MinConcurrency
	assert.NoError(t, job.Validate())
	job.Config.Concurrency = MaxConcurrency
	assert.NoError(t, job.Validate())
}

func TestJobResultMarkdown(t *testing.T) {
	r := &JobResult{Contents: []string{"# One", "# Two"}}
	assert.Equal(t, "# One\n\n# Two", r.Markdown())

	empty := &JobResult{}
	assert.Equal(t, "", empty.Markdown())
}
