package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxkit/batchd/types"
)

func makeBatch(t *testing.T, n int) *Batch {
	t.Helper()
	batch := NewBatch(n)
	for i := 0; i < n; i++ {
		job := types.NewJob(fmt.Sprintf("job-%d", i), json.RawMessage(`{}`))
		job.ArrivalTime = time.Now()
		batch.add(job)
	}
	return batch
}

func TestPreprocessPool_AllSucceed(t *testing.T) {
	pool := NewPreprocessPool(4, func(ctx context.Context, job *types.Job) (any, error) {
		return "prepared:" + job.ID, nil
	}, zaptest.NewLogger(t))

	batch := makeBatch(t, 5)
	prepared := pool.Run(context.Background(), batch)

	require.Len(t, prepared, 5)
	for i, job := range batch.Jobs {
		assert.Equal(t, types.JobStatePreprocessed, job.State())
		assert.Equal(t, "prepared:"+job.ID, prepared[i])
	}
}

func TestPreprocessPool_FailureIsIsolated(t *testing.T) {
	pool := NewPreprocessPool(4, func(ctx context.Context, job *types.Job) (any, error) {
		if job.ID == "job-2" {
			return nil, types.NewError(types.ErrFetchFailed, "404 from origin")
		}
		return job.ID, nil
	}, zaptest.NewLogger(t))

	batch := makeBatch(t, 4)
	prepared := pool.Run(context.Background(), batch)

	for i, job := range batch.Jobs {
		if job.ID == "job-2" {
			assert.Equal(t, types.JobStatePreprocessingFailed, job.State())
			assert.Nil(t, prepared[i])
			outcome, done := job.Outcome()
			require.True(t, done)
			oErr, ok := outcome.Err()
			require.True(t, ok)
			assert.Equal(t, types.ErrFetchFailed, oErr.Code)
		} else {
			assert.Equal(t, types.JobStatePreprocessed, job.State())
			assert.Equal(t, job.ID, prepared[i])
		}
	}
}

func TestPreprocessPool_PanicIsIsolated(t *testing.T) {
	pool := NewPreprocessPool(2, func(ctx context.Context, job *types.Job) (any, error) {
		if job.ID == "job-0" {
			panic("corrupt input")
		}
		return job.ID, nil
	}, zaptest.NewLogger(t))

	batch := makeBatch(t, 3)
	prepared := pool.Run(context.Background(), batch)

	assert.Equal(t, types.JobStatePreprocessingFailed, batch.Jobs[0].State())
	outcome, done := batch.Jobs[0].Outcome()
	require.True(t, done)
	oErr, _ := outcome.Err()
	assert.Equal(t, types.ErrPreprocessingFailed, oErr.Code)
	assert.Contains(t, oErr.Message, "corrupt input")

	assert.Equal(t, types.JobStatePreprocessed, batch.Jobs[1].State())
	assert.Equal(t, types.JobStatePreprocessed, batch.Jobs[2].State())
	assert.Equal(t, "job-1", prepared[1])
}

func TestPreprocessPool_BoundedParallelism(t *testing.T) {
	const workers = 2
	var current, peak int32

	pool := NewPreprocessPool(workers, func(ctx context.Context, job *types.Job) (any, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil, nil
	}, zaptest.NewLogger(t))

	batch := makeBatch(t, 6)
	pool.Run(context.Background(), batch)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(workers))
}

func TestPreprocessPool_InvalidJobFailsWithoutPrepare(t *testing.T) {
	var called int32
	pool := NewPreprocessPool(2, func(ctx context.Context, job *types.Job) (any, error) {
		atomic.AddInt32(&called, 1)
		return nil, nil
	}, zaptest.NewLogger(t))

	batch := NewBatch(1)
	job := types.NewInvalidJob([]byte("garbage"), errors.New("bad json"))
	job.ArrivalTime = time.Now()
	batch.add(job)

	pool.Run(context.Background(), batch)

	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
	assert.Equal(t, types.JobStatePreprocessingFailed, job.State())
	outcome, done := job.Outcome()
	require.True(t, done)
	oErr, _ := outcome.Err()
	assert.Equal(t, types.ErrInvalidPayload, oErr.Code)
}

func TestPreprocessPool_RunReturnsOnlyWhenAllSettled(t *testing.T) {
	var mu sync.Mutex
	finished := 0

	pool := NewPreprocessPool(3, func(ctx context.Context, job *types.Job) (any, error) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		finished++
		mu.Unlock()
		return nil, nil
	}, zaptest.NewLogger(t))

	batch := makeBatch(t, 6)
	pool.Run(context.Background(), batch)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, finished)
	for _, job := range batch.Jobs {
		assert.Equal(t, types.JobStatePreprocessed, job.State())
	}
}
