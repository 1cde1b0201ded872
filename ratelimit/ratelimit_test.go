package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_AllowRespectsBurst(t *testing.T) {
	l := NewLocal("org-1", 1, 2)
	ctx := context.Background()

	ok1, _, err1 := l.Allow(ctx)
	require.NoError(t, err1)
	assert.True(t, ok1)

	ok2, _, err2 := l.Allow(ctx)
	require.NoError(t, err2)
	assert.True(t, ok2)

	ok3, retryAfter, err3 := l.Allow(ctx)
	assert.False(t, ok3)
	require.Error(t, err3)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestLocal_WaitUnblocksAfterRefill(t *testing.T) {
	l := NewLocal("org-1", 100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
}
