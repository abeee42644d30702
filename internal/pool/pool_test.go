package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{50, 10, 30, 0, 20, 40}

	results := Map(context.Background(), items, 3, func(_ context.Context, delay int, i int) int {
		// later items finish first
		time.Sleep(time.Duration(delay) * time.Millisecond)
		return i
	}, Options[int, int]{})

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, i, r)
	}
}

func TestMap_RespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 12)

	Map(context.Background(), items, 4, func(_ context.Context, _ int, _ int) struct{} {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	}, Options[int, struct{}]{})

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestMap_AbortSkipsUnclaimed(t *testing.T) {
	var abort atomic.Bool
	items := []string{"ok", "fail", "later", "latest"}

	results := Map(context.Background(), items, 1, func(_ context.Context, item string, _ int) string {
		if item == "fail" {
			abort.Store(true)
		}
		return item
	}, Options[string, string]{
		Abort:   &abort,
		Skipped: func(item string, _ int) string { return "skipped:" + item },
	})

	assert.Equal(t, []string{"ok", "fail", "skipped:later", "skipped:latest"}, results)
}

func TestMap_Empty(t *testing.T) {
	results := Map(context.Background(), []int(nil), 4, func(_ context.Context, _ int, _ int) int { return 1 }, Options[int, int]{})
	assert.Empty(t, results)
}
