package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmacy/modul8r/logging"
)

type fakeLister struct {
	calls  int
	models []string
	err    error
}

func (f *fakeLister) VisionModels(ctx context.Context) ([]string, error) {
	f.calls++
	return f.models, f.err
}

func TestModelCacheFetchesOnce(t *testing.T) {
	lister := &fakeLister{models: []string{"gpt-4o"}}
	cache := NewModelCache(lister, time.Hour, logging.Nop())

	for i := 0; i < 3; i++ {
		got, err := cache.Models(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"gpt-4o"}, got)
	}
	assert.Equal(t, 1, lister.calls)
}

func TestModelCacheServesStaleOnRefreshFailure(t *testing.T) {
	lister := &fakeLister{models: []string{"gpt-4o"}}
	cache := NewModelCache(lister, time.Millisecond, logging.Nop())

	_, err := cache.Models(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	lister.err = errors.New("api down")

	got, err := cache.Models(context.Background())
	require.NoError(t, err, "stale catalog must be served over a refresh failure")
	assert.Equal(t, []string{"gpt-4o"}, got)
}

func TestModelCacheErrorsWithNoCatalog(t *testing.T) {
	lister := &fakeLister{err: errors.New("api down")}
	cache := NewModelCache(lister, time.Hour, logging.Nop())

	_, err := cache.Models(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "empty", cache.Status()["status"])
}
