package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/placement/batch"
)

type fakeRunner struct {
	release chan struct{}
	calls   atomic.Int32
	err     error
}

func (f *fakeRunner) RunWithID(ctx context.Context, runID string) (*batch.Summary, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &batch.Summary{RunID: runID, Succeeded: 1}, f.err
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&fakeRunner{}, "every day please")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")
}

func TestScheduler_Trigger(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, err := New(runner, "0 3 * * *")
	require.NoError(t, err)

	runID, err := s.Trigger()
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	status := s.Status()
	assert.True(t, status.Running)
	assert.Equal(t, runID, status.Current)
	assert.Nil(t, status.Last)

	// 运行中再次触发被拒绝
	_, err = s.Trigger()
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	s.Wait()

	status = s.Status()
	assert.False(t, status.Running)
	assert.Empty(t, status.Current)
	require.NotNil(t, status.Last)
	assert.Equal(t, runID, status.Last.RunID)
	assert.Empty(t, status.LastError)
	assert.Equal(t, int32(1), runner.calls.Load())

	// 结束后可以再次触发
	next, err := s.Trigger()
	require.NoError(t, err)
	assert.NotEqual(t, runID, next)
	s.Wait()
}

func TestScheduler_RunError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("load pipeline: model not found")}
	s, err := New(runner, "@daily")
	require.NoError(t, err)

	_, err = s.Trigger()
	require.NoError(t, err)
	s.Wait()

	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "load pipeline: model not found", status.LastError)
}

func TestScheduler_StartRunsOnSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(runner, "@every 1s")
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.calls.Load() > 0 && s.Status().Last != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_StopCancelsWithContext(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, err := New(runner, "@daily")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	_, err = s.Trigger()
	require.NoError(t, err)

	cancel()
	s.Stop()

	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, context.Canceled.Error(), status.LastError)
}

// setupFailRunner 第一次成功，之后在生成 summary 之前失败
type setupFailRunner struct {
	calls atomic.Int32
}

func (r *setupFailRunner) RunWithID(_ context.Context, runID string) (*batch.Summary, error) {
	if r.calls.Add(1) == 1 {
		return &batch.Summary{RunID: runID, Succeeded: 2}, nil
	}
	return nil, errors.New("setup directories: permission denied")
}

func TestScheduler_FailureWithoutSummaryKeepsLastRun(t *testing.T) {
	s, err := New(&setupFailRunner{}, "@daily")
	require.NoError(t, err)

	first, err := s.Trigger()
	require.NoError(t, err)
	s.Wait()

	_, err = s.Trigger()
	require.NoError(t, err)
	s.Wait()

	status := s.Status()
	require.NotNil(t, status.Last)
	assert.Equal(t, first, status.Last.RunID)
	assert.Equal(t, 2, status.Last.Succeeded)
	assert.Equal(t, "setup directories: permission denied", status.LastError)
}
