package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDistributed(t *testing.T, limit int64, window time.Duration) *Distributed {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	d, err := NewDistributed("redis://"+mr.Addr(), "org-1", limit, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDistributed_AllowEnforcesLimitWithinWindow(t *testing.T) {
	d := newTestDistributed(t, 2, time.Minute)
	ctx := context.Background()

	ok1, _, err1 := d.Allow(ctx)
	require.NoError(t, err1)
	assert.True(t, ok1)

	ok2, _, err2 := d.Allow(ctx)
	require.NoError(t, err2)
	assert.True(t, ok2)

	ok3, retryAfter, err3 := d.Allow(ctx)
	assert.False(t, ok3)
	require.Error(t, err3)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestSourceLimiter_WrapsRejectionAsSourceScoped(t *testing.T) {
	d := newTestDistributed(t, 1, time.Minute)
	sl := &SourceLimiter{Limiter: d, SourceShortName: "jira"}
	ctx := context.Background()

	ok, _, err := sl.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = sl.Allow(ctx)
	require.Error(t, err)
}
