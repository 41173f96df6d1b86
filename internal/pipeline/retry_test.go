package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_DoublesUpToLimit(t *testing.T) {
	r := newRetry(time.Millisecond, 3*time.Millisecond)
	ctx := context.Background()

	require.True(t, r.wait(ctx))
	assert.Equal(t, 2*time.Millisecond, r.delay)
	require.True(t, r.wait(ctx))
	assert.Equal(t, 3*time.Millisecond, r.delay)
	require.True(t, r.wait(ctx))
	assert.Equal(t, 3*time.Millisecond, r.delay)

	r.reset()
	assert.Equal(t, time.Millisecond, r.delay)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	r := newRetry(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, r.wait(ctx))
	assert.Equal(t, time.Hour, r.delay, "delay unchanged when interrupted")
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Stage
	}{
		{"stage error", &domain.StageError{Stage: domain.StageDecode, Err: errors.New("x")}, domain.StageDecode},
		{"wrapped", errors.Join(errors.New("ctx"), &domain.StageError{Stage: domain.StageInterpolate, Err: domain.ErrEmptyDataset}), domain.StageInterpolate},
		{"plain", errors.New("boom"), "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stageOf(tc.err))
		})
	}
}
