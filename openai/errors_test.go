package openai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{429, "rate limit exceeded", KindRateLimited},
		{408, "request timeout", KindTimeout},
		{504, "gateway timeout", KindTimeout},
		{500, "internal error", KindTransient},
		{502, "bad gateway", KindTransient},
		{400, "your request violated our content policy", KindContentRejected},
		{400, "blocked by our safety system", KindContentRejected},
		{400, "invalid request", KindUnknown},
		{403, "forbidden", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.want), func(t *testing.T) {
			err := classifyStatus(tt.status, tt.body)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestClassifyWrappedErrors(t *testing.T) {
	callErr := &CallError{Kind: KindRateLimited, StatusCode: 429, Message: "slow down"}
	assert.Equal(t, KindRateLimited, Classify(fmt.Errorf("page 3: %w", callErr)))
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, Classify(errors.New("something else")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&CallError{Kind: KindRateLimited}))
	assert.True(t, IsRetryable(&CallError{Kind: KindTimeout}))
	assert.True(t, IsRetryable(&CallError{Kind: KindTransient}))
	assert.False(t, IsRetryable(&CallError{Kind: KindContentRejected}))
	assert.False(t, IsRetryable(&CallError{Kind: KindUnknown}))
}
