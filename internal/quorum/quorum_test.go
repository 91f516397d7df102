package quorum

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoWrite_AllApplied(t *testing.T) {
	targets := []string{"r1", "r2", "r3"}
	result := DoWrite(context.Background(), targets, WriteOptions{}, func(ctx context.Context, id string) (bool, error) {
		return id != "r2", nil
	})

	assert.Equal(t, 3, result.Applied)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Pending)
	require.Len(t, result.Results, 3)
	for i, r := range result.Results {
		assert.Equal(t, targets[i], r.Target, "results keep target order")
		assert.Equal(t, Applied, r.State)
	}
	assert.True(t, result.Results[0].Changed)
	assert.False(t, result.Results[1].Changed, "a losing apply still counts as applied")
}

func TestDoWrite_PartialFailure(t *testing.T) {
	boom := errors.New("replica failed")
	result := DoWrite(context.Background(), []string{"r1", "r2", "r3"}, WriteOptions{}, func(ctx context.Context, id string) (bool, error) {
		if id == "r3" {
			return true, boom
		}
		return true, nil
	})

	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, Failed, result.Results[2].State)
	assert.False(t, result.Results[2].Changed)
	assert.ErrorIs(t, result.Results[2].Err, boom)
}

func TestDoWrite_TimeoutBoundsEachTarget(t *testing.T) {
	start := time.Now()
	result := DoWrite(context.Background(), []string{"fast", "slow"}, WriteOptions{Timeout: 30 * time.Millisecond},
		func(ctx context.Context, id string) (bool, error) {
			if id == "slow" {
				<-ctx.Done()
				return false, ctx.Err()
			}
			return true, nil
		})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Applied, result.Results[0].State)
	assert.Equal(t, Failed, result.Results[1].State)
	assert.ErrorIs(t, result.Results[1].Err, context.DeadlineExceeded)
}

func TestDoWrite_MinAcksReturnsEarly(t *testing.T) {
	release := make(chan struct{})
	late := make(chan TargetResult, 1)

	result := DoWrite(context.Background(), []string{"r1", "r2"}, WriteOptions{
		MinAcks: 1,
		OnLate:  func(r TargetResult) { late <- r },
	}, func(ctx context.Context, id string) (bool, error) {
		if id == "r2" {
			<-release
		}
		return true, nil
	})

	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, Pending, result.Results[1].State)

	close(release)
	select {
	case r := <-late:
		assert.Equal(t, "r2", r.Target)
		assert.Equal(t, Applied, r.State)
	case <-time.After(time.Second):
		t.Fatal("late result never delivered")
	}
}

func TestDoWrite_MinAcksWaitsAfterFailure(t *testing.T) {
	var calls int32
	result := DoWrite(context.Background(), []string{"r1", "r2", "r3"}, WriteOptions{MinAcks: 1},
		func(ctx context.Context, id string) (bool, error) {
			atomic.AddInt32(&calls, 1)
			switch id {
			case "r1":
				return false, errors.New("down")
			case "r2":
				time.Sleep(10 * time.Millisecond)
			case "r3":
				time.Sleep(20 * time.Millisecond)
			}
			return true, nil
		})

	// A failure seen before the ack threshold means every target is awaited.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, result.Pending)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Failed)
}

func TestDoWrite_NoTargets(t *testing.T) {
	result := DoWrite(context.Background(), nil, WriteOptions{}, func(context.Context, string) (bool, error) {
		t.Fatal("must not be called")
		return false, nil
	})
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Applied)
}

func TestDoRead(t *testing.T) {
	results := DoRead(context.Background(), []string{"a", "b", "c"}, time.Second,
		func(ctx context.Context, id string) (string, error) {
			if id == "b" {
				return "", errors.New("down")
			}
			return "v-" + id, nil
		})

	require.Len(t, results, 3)
	assert.Equal(t, "v-a", results[0].Value)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "c", results[2].Target)
}
