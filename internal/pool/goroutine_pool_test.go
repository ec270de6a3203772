package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4})
	defer p.Close()

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())

	wantErr := errors.New("boom")
	err = p.SubmitWait(context.Background(), func(ctx context.Context) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGoroutinePool_RunAllBoundsConcurrency(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 3, QueueSize: 2})
	defer p.Close()

	var current, peak atomic.Int32
	results := make([]int, 20)
	tasks := make([]Task, len(results))
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			results[i] = i * i
			return nil
		}
	}

	require.NoError(t, p.RunAll(context.Background(), tasks))
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestGoroutinePool_RunAllFirstErrorCancels(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 10})
	defer p.Close()

	wantErr := errors.New("first failure")
	var executed atomic.Int32
	tasks := []Task{
		func(ctx context.Context) error { executed.Add(1); return wantErr },
		func(ctx context.Context) error { executed.Add(1); return nil },
		func(ctx context.Context) error { executed.Add(1); return nil },
	}

	err := p.RunAll(context.Background(), tasks)
	assert.ErrorIs(t, err, wantErr)
	// 单 worker 串行执行，第一个失败后其余任务因 ctx 取消而跳过
	assert.Equal(t, int32(1), executed.Load())
}

func TestGoroutinePool_RunAllPanic(t *testing.T) {
	var handled atomic.Bool
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   2,
		PanicHandler: func(any) { handled.Store(true) },
	})
	defer p.Close()

	err := p.RunAll(context.Background(), []Task{func(ctx context.Context) error { panic("bad") }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panicked: bad")
	assert.Eventually(t, handled.Load, time.Second, 5*time.Millisecond)
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.RunAll(context.Background(), []Task{func(context.Context) error { return nil }}), ErrPoolClosed)
}

func TestGoroutinePool_SubmitWaitContextCanceled(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitWait(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
