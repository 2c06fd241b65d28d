package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmacy/modul8r/models"
)

func TestAssemblerRejectsDuplicateOutcome(t *testing.T) {
	a := NewAssembler(testJob(3, 1, 0))

	require.NoError(t, a.Add(models.SuccessOutcome(1, "x")))
	err := a.Add(models.SuccessOutcome(1, "y"))
	require.ErrorIs(t, err, ErrDuplicateOutcome)
}

func TestAssemblerRejectsOutOfRangeOutcome(t *testing.T) {
	a := NewAssembler(testJob(3, 1, 0))

	assert.ErrorIs(t, a.Add(models.SuccessOutcome(3, "x")), ErrOutcomeOutOfRange)
	assert.ErrorIs(t, a.Add(models.SuccessOutcome(-1, "x")), ErrOutcomeOutOfRange)
}

func TestAssemblerOrdersOutOfOrderArrivals(t *testing.T) {
	a := NewAssembler(testJob(3, 1, 0))

	require.NoError(t, a.Add(models.SuccessOutcome(2, "third")))
	require.NoError(t, a.Add(models.SuccessOutcome(0, "first")))
	assert.False(t, a.Complete())
	require.NoError(t, a.Add(models.SuccessOutcome(1, "second")))
	require.True(t, a.Complete())

	result := a.Result()
	assert.Equal(t, []string{"first", "second", "third"}, result.Contents)
	assert.Equal(t, "first\n\nsecond\n\nthird", result.Markdown())
}

func TestAssemblerCountsMatchTotal(t *testing.T) {
	job := testJob(4, 1, 0)
	a := NewAssembler(job)

	require.NoError(t, a.Add(models.SuccessOutcome(0, "a")))
	require.NoError(t, a.Add(models.FailureOutcome(1, models.FailureTimeout, "deadline exceeded")))
	require.NoError(t, a.Add(models.SuccessOutcome(2, "c")))
	require.NoError(t, a.Add(models.FailureOutcome(3, models.FailureUnknown, "boom")))

	result := a.Result()
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, job.TotalPages(), result.Succeeded+result.Failed)
	assert.Len(t, result.Failures, 2)
}

func TestAssemblerOmitsFailedPagesWhenConfigured(t *testing.T) {
	job := testJob(3, 1, 0)
	job.Config.IncludeFailedPages = false
	a := NewAssembler(job)

	require.NoError(t, a.Add(models.SuccessOutcome(0, "a")))
	require.NoError(t, a.Add(models.FailureOutcome(1, models.FailureContentRejected, "rejected")))
	require.NoError(t, a.Add(models.SuccessOutcome(2, "c")))

	result := a.Result()
	assert.Equal(t, []string{"a", "c"}, result.Contents)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, job.TotalPages(), len(result.Contents)+result.Failed)
}

func TestAssemblerInlineFailureMarker(t *testing.T) {
	job := testJob(2, 1, 0)
	a := NewAssembler(job)

	require.NoError(t, a.Add(models.SuccessOutcome(0, "a")))
	require.NoError(t, a.Add(models.FailureOutcome(1, models.FailureRetriesExhausted, "502 bad gateway")))

	result := a.Result()
	require.Len(t, result.Contents, 2)
	assert.Equal(t, "<!-- page 2 failed (retries_exhausted): 502 bad gateway -->", result.Contents[1])
}
