package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	rl := &RateLimitError{Message: "API rate limit exceeded"}
	wrapped := fmt.Errorf("search Go/good first issue: %w", rl)

	assert.True(t, IsRateLimit(wrapped))
	assert.False(t, IsAuth(wrapped))
	assert.False(t, IsTimeout(wrapped))

	auth := fmt.Errorf("start: %w", &AuthError{Op: "sign", Err: errors.New("bad key")})
	assert.True(t, IsAuth(auth))
	assert.Contains(t, auth.Error(), "bad key")
}

func TestClassify(t *testing.T) {
	t.Run("deadline becomes timeout", func(t *testing.T) {
		err := Classify("graphql", fmt.Errorf("post: %w", context.DeadlineExceeded))
		var te *TimeoutError
		assert.ErrorAs(t, err, &te)
		assert.Equal(t, "graphql", te.Op)
	})

	t.Run("rate limit untouched", func(t *testing.T) {
		rl := &RateLimitError{Message: "x"}
		assert.Same(t, rl, Classify("graphql", rl))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Classify("op", nil))
	})
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(&RateLimitError{}))
	assert.False(t, Retryable(&AuthError{Op: "exchange", Err: errors.New("401")}))
	assert.False(t, Retryable(&NotFoundError{What: "issue"}))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(errors.New("connection reset by peer")))
	assert.True(t, Retryable(&TimeoutError{Op: "query", Err: context.DeadlineExceeded}))
}
